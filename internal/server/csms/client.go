// Package csms talks to the external sample management system that owns
// shipment manifests, and syncs its manifests into the registry.
package csms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/trialregistry/internal/server/manifests"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultPageSize = 100

type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	PageSize     int
}

// Client is an authenticated reader of the CSMS REST API. Tokens are
// fetched with the client-credentials grant and refreshed on expiry.
type Client struct {
	http     *http.Client
	base     string
	pageSize int
}

func NewClient(ctx context.Context, cfg Config) *Client {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	return newClient(cc.Client(ctx), cfg)
}

func newClient(hc *http.Client, cfg Config) *Client {
	size := cfg.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	return &Client{http: hc, base: strings.TrimRight(cfg.BaseURL, "/"), pageSize: size}
}

type page struct {
	Data []map[string]any `json:"data"`
}

// get fetches one JSON document; path is relative to the base URL unless it
// already starts with it.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := path
	if !strings.HasPrefix(u, c.base) {
		u = c.base + path
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("csms GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("csms GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// paged reads every page of path, stopping at the first short page.
func (c *Client) paged(ctx context.Context, path string, q url.Values) ([]map[string]any, error) {
	if q == nil {
		q = url.Values{}
	}
	var out []map[string]any
	for offset := 0; ; offset += c.pageSize {
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("offset", strconv.Itoa(offset))
		var p page
		if err := c.get(ctx, path, q, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Data...)
		if len(p.Data) < c.pageSize {
			return out, nil
		}
	}
}

// Samples returns the samples shipped under manifestID.
func (c *Client) Samples(ctx context.Context, manifestID string) ([]map[string]any, error) {
	return c.paged(ctx, "/samples", url.Values{"manifest_id": {manifestID}})
}

// Manifests returns every manifest with its samples attached.
func (c *Client) Manifests(ctx context.Context) ([]manifests.Manifest, error) {
	raw, err := c.paged(ctx, "/manifests", nil)
	if err != nil {
		return nil, err
	}
	out := make([]manifests.Manifest, 0, len(raw))
	for _, m := range raw {
		id, _ := m["manifest_id"].(string)
		samples, err := c.Samples(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("samples of manifest %s: %w", id, err)
		}
		list := make([]any, 0, len(samples))
		for _, s := range samples {
			list = append(list, s)
		}
		m["samples"] = list
		out = append(out, manifests.Manifest(m))
	}
	return out, nil
}

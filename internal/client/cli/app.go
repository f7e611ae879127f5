package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dmitrijs2005/trialregistry/internal/client/client"
	"github.com/dmitrijs2005/trialregistry/internal/client/config"
	gs "github.com/dmitrijs2005/trialregistry/internal/server/grpc"
	"github.com/tidwall/jsonc"
)

const usage = `Available commands:
  ping
  grant <user_id> <trial_id|*> <upload_type|*>
  revoke <permission_id>
  permissions [user_id]
  upload-status <job_id> <status>
  sync <manifest.json>
  insert <manifest.json>
  summaries
  files [trial_id] [upload_type]
  url <file_id>
  help, exit`

var errUsage = errors.New("bad arguments")

type App struct {
	config *config.Config
	client client.Client
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(c *config.Config) (*App, error) {
	token := c.AccessToken
	if token == "" {
		t, err := GetToken(os.Stderr)
		if err != nil {
			return nil, err
		}
		token = t
	}

	apiClient, err := client.NewAdminClient(c.ServerEndpointAddr, token, c.RequestTimeout)
	if err != nil {
		return nil, err
	}

	return &App{config: c, client: apiClient, reader: bufio.NewReader(os.Stdin), out: os.Stdout}, nil
}

func (a *App) Close() error {
	return a.client.Close()
}

// Run executes args as one command, or starts the REPL when args is empty.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) > 0 {
		return a.Exec(ctx, args[0], args[1:])
	}
	fmt.Fprintln(a.out, "Registry admin CLI (type 'help' for commands)")
	runREPL(ctx, a, bufio.NewScanner(a.reader), a.out)
	return nil
}

func (a *App) print(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not an id", errUsage, s)
	}
	return id, nil
}

// readManifest loads a manifest document; comments and trailing commas
// are accepted.
func readManifest(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func arity(cmd string, args []string, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		return fmt.Errorf("%w for %s; type 'help' for usage", errUsage, cmd)
	}
	return nil
}

// Exec runs a single command.
func (a *App) Exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "ping":
		if err := arity(cmd, args, 0, 0); err != nil {
			return err
		}
		if err := a.client.Ping(ctx); err != nil {
			return err
		}
		_, err := fmt.Fprintln(a.out, "OK")
		return err

	case "grant":
		if err := arity(cmd, args, 3, 3); err != nil {
			return err
		}
		userID, err := parseID(args[0])
		if err != nil {
			return err
		}
		p, err := a.client.GrantPermission(ctx, userID, args[1], args[2])
		if err != nil {
			return err
		}
		return a.print(p)

	case "revoke":
		if err := arity(cmd, args, 1, 1); err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if !Confirm(a.reader, fmt.Sprintf("Revoke permission %d?", id), a.out) {
			_, err := fmt.Fprintln(a.out, "Cancelled")
			return err
		}
		return a.client.RevokePermission(ctx, id)

	case "permissions":
		if err := arity(cmd, args, 0, 1); err != nil {
			return err
		}
		var userID int64
		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			userID = id
		}
		perms, err := a.client.ListPermissions(ctx, userID)
		if err != nil {
			return err
		}
		return a.print(perms)

	case "upload-status":
		if err := arity(cmd, args, 2, 2); err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		job, err := a.client.SetUploadJobStatus(ctx, id, args[1])
		if err != nil {
			return err
		}
		return a.print(job)

	case "sync", "insert":
		if err := arity(cmd, args, 1, 1); err != nil {
			return err
		}
		m, err := readManifest(args[0])
		if err != nil {
			return err
		}
		if cmd == "sync" {
			resp, err := a.client.SyncManifest(ctx, m)
			if err != nil {
				return err
			}
			return a.print(resp)
		}
		resp, err := a.client.InsertManifest(ctx, m)
		if err != nil {
			return err
		}
		return a.print(resp)

	case "summaries":
		if err := arity(cmd, args, 0, 0); err != nil {
			return err
		}
		resp, err := a.client.TrialSummaries(ctx)
		if err != nil {
			return err
		}
		return a.print(resp.Summaries)

	case "files":
		if err := arity(cmd, args, 0, 2); err != nil {
			return err
		}
		req := &gs.ListFilesRequest{}
		if len(args) > 0 {
			req.TrialID = args[0]
		}
		if len(args) > 1 {
			req.UploadType = args[1]
		}
		files, err := a.client.ListFiles(ctx, req)
		if err != nil {
			return err
		}
		return a.print(files)

	case "url":
		if err := arity(cmd, args, 1, 1); err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		link, err := a.client.DownloadURL(ctx, id)
		if err != nil {
			return err
		}
		return a.print(link)

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

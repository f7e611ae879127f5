package gcloud

import (
	"context"
	"errors"
	"sync"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/option"
)

var (
	newStorageClient = func(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
		return storage.NewClient(ctx, opts...)
	}
	newBigQueryClient = func(ctx context.Context, project string, opts ...option.ClientOption) (*bigquery.Client, error) {
		return bigquery.NewClient(ctx, project, opts...)
	}
	newCRMService = func(ctx context.Context, opts ...option.ClientOption) (*cloudresourcemanager.Service, error) {
		return cloudresourcemanager.NewService(ctx, opts...)
	}
)

// DatasetACL grants and revokes dataset-level read access.
type DatasetACL interface {
	GrantReaders(ctx context.Context, emails []string) error
	RevokeReader(ctx context.Context, email string) error
}

// Clients creates each Google Cloud client on first use and reuses it
// afterwards.
type Clients struct {
	project string
	opts    []option.ClientOption

	mu      sync.Mutex
	storage *storage.Client
	bq      *bigquery.Client
	crm     *cloudresourcemanager.Service
}

func NewClients(project string, opts ...option.ClientOption) *Clients {
	return &Clients{project: project, opts: opts}
}

func (c *Clients) Storage(ctx context.Context) (*storage.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storage == nil {
		sc, err := newStorageClient(ctx, c.opts...)
		if err != nil {
			return nil, err
		}
		c.storage = sc
	}
	return c.storage, nil
}

func (c *Clients) BigQuery(ctx context.Context) (*bigquery.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bq == nil {
		bq, err := newBigQueryClient(ctx, c.project, c.opts...)
		if err != nil {
			return nil, err
		}
		c.bq = bq
	}
	return c.bq, nil
}

func (c *Clients) ResourceManager(ctx context.Context) (*cloudresourcemanager.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.crm == nil {
		svc, err := newCRMService(ctx, c.opts...)
		if err != nil {
			return nil, err
		}
		c.crm = svc
	}
	return c.crm, nil
}

func (c *Clients) BucketPolicy(ctx context.Context, bucket string) (PolicyStore, error) {
	sc, err := c.Storage(ctx)
	if err != nil {
		return nil, err
	}
	return NewBucketPolicyStore(sc, bucket), nil
}

func (c *Clients) ProjectPolicy(ctx context.Context) (PolicyStore, error) {
	svc, err := c.ResourceManager(ctx)
	if err != nil {
		return nil, err
	}
	return NewProjectPolicyStore(svc, c.project), nil
}

func (c *Clients) BucketExists(ctx context.Context, bucket string) (bool, error) {
	sc, err := c.Storage(ctx)
	if err != nil {
		return false, err
	}
	return BucketExists(ctx, sc, bucket)
}

func (c *Clients) Dataset(ctx context.Context, datasetID string) (DatasetACL, error) {
	bq, err := c.BigQuery(ctx)
	if err != nil {
		return nil, err
	}
	return NewDatasetAccess(bq, datasetID), nil
}

func (c *Clients) Blobs(ctx context.Context, bucket string) (*BlobStore, error) {
	sc, err := c.Storage(ctx)
	if err != nil {
		return nil, err
	}
	return NewBlobStore(sc, bucket), nil
}

// Close releases whichever clients were created.
func (c *Clients) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.storage != nil {
		errs = append(errs, c.storage.Close())
		c.storage = nil
	}
	if c.bq != nil {
		errs = append(errs, c.bq.Close())
		c.bq = nil
	}
	c.crm = nil
	return errors.Join(errs...)
}

// Package objectstore abstracts the bucket that holds downloadable trial
// data: prefix listing, per-object reader grants and signed GET URLs.
package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/server/config"
	"github.com/dmitrijs2005/trialregistry/internal/server/gcloud"
)

// Store is implemented by gcloud.BlobStore and S3Store.
type Store interface {
	List(ctx context.Context, prefix string) ([]string, error)
	GrantRead(ctx context.Context, object, email string) error
	RevokeRead(ctx context.Context, object, email string) error
	SignedURL(ctx context.Context, object string, ttl time.Duration) (string, error)
}

// Open returns the backend selected by cfg.ObjectStore.
func Open(ctx context.Context, cfg *config.Config, clients *gcloud.Clients) (Store, error) {
	switch cfg.ObjectStore {
	case config.ObjectStoreGCS, "":
		return clients.Blobs(ctx, cfg.DataBucket)
	case config.ObjectStoreS3:
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown object store %q", cfg.ObjectStore)
	}
}

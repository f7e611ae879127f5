package client

import (
	"context"

	gs "github.com/dmitrijs2005/trialregistry/internal/server/grpc"
)

// Client is the admin API surface the CLI uses.
type Client interface {
	Close() error
	Ping(ctx context.Context) error
	GrantPermission(ctx context.Context, userID int64, trial, uploadType string) (*gs.Permission, error)
	RevokePermission(ctx context.Context, permissionID int64) error
	ListPermissions(ctx context.Context, userID int64) ([]*gs.Permission, error)
	SetUploadJobStatus(ctx context.Context, jobID int64, status string) (*gs.UploadJob, error)
	SyncManifest(ctx context.Context, manifest map[string]any) (*gs.SyncManifestResponse, error)
	InsertManifest(ctx context.Context, manifest map[string]any) (*gs.InsertManifestResponse, error)
	TrialSummaries(ctx context.Context) (*gs.TrialSummariesResponse, error)
	ListFiles(ctx context.Context, req *gs.ListFilesRequest) ([]*gs.File, error)
	DownloadURL(ctx context.Context, fileID int64) (*gs.DownloadURLResponse, error)
}

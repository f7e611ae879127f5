// Package grpc serves the registry's admin API: permissions, upload jobs,
// manifest sync and insertion, trial summaries and file downloads.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/csms"
	"github.com/dmitrijs2005/trialregistry/internal/server/manifests"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/files"
	"github.com/dmitrijs2005/trialregistry/internal/server/uploads"
	"google.golang.org/grpc"
)

type UserService interface {
	CurrentUser(ctx context.Context, id int64) (*models.User, error)
	UpdateAccessed(ctx context.Context, u *models.User) error
}

type PermissionService interface {
	Insert(ctx context.Context, p *models.Permission) (*models.Permission, error)
	Delete(ctx context.Context, id, deletedBy int64) error
	FindForUser(ctx context.Context, userID int64) ([]*models.Permission, error)
}

type UploadService interface {
	Create(ctx context.Context, req uploads.CreateRequest) (*models.UploadJob, error)
	SetStatus(ctx context.Context, id int64, status models.UploadJobStatus) (*models.UploadJob, error)
}

type ManifestSyncer interface {
	SyncManifest(ctx context.Context, m manifests.Manifest, uploaderEmail string) csms.Result
}

type ManifestInserter interface {
	InsertIntoBlob(ctx context.Context, m manifests.Manifest, uploaderEmail string) (*models.UploadJob, error)
	InsertFromJSON(ctx context.Context, m manifests.Manifest, uploaderEmail string) error
	Relational() bool
}

type TrialService interface {
	GetSummaries(ctx context.Context, user *models.User) ([]*models.TrialSummary, error)
}

type DownloadService interface {
	ListForUser(ctx context.Context, user *models.User, f files.ListFilter) ([]*models.DownloadableFile, error)
	DownloadURL(ctx context.Context, user *models.User, fileID int64) (*models.DownloadLink, error)
}

// Services are the domain services the API delegates to.
type Services struct {
	Users       UserService
	Permissions PermissionService
	Uploads     UploadService
	Syncer      ManifestSyncer
	Manifests   ManifestInserter
	Trials      TrialService
	Downloads   DownloadService
}

type GRPCServer struct {
	address   string
	services  Services
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, services Services, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		services:  services,
		jwtSecret: []byte(secretKey),
	}
}

// newServer builds a grpc.Server carrying the admin service behind the
// auth interceptor.
func (s *GRPCServer) newServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&AdminServiceDesc, s)
	return srv
}

// Serve accepts connections on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(10 * time.Second):
			srv.Stop()
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())
	return srv.Serve(lis)
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

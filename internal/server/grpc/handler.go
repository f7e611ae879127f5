package grpc

import (
	"context"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/server/manifests"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/files"
	"github.com/dmitrijs2005/trialregistry/internal/server/uploads"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ AdminServer = (*GRPCServer)(nil)

func (s *GRPCServer) caller(ctx context.Context) (*models.User, error) {
	u, ok := CurrentUser(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return u, nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *Empty) (*PingResponse, error) {
	return &PingResponse{Status: "OK"}, nil
}

func (s *GRPCServer) GrantPermission(ctx context.Context, req *GrantPermissionRequest) (*Permission, error) {
	u, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.services.Permissions.Insert(ctx, &models.Permission{
		GrantedToUser: req.GrantedToUser,
		GrantedByUser: u.ID,
		Trial:         models.ParseScope(req.TrialID),
		UploadType:    models.ParseScope(req.UploadType),
	})
	if err != nil {
		s.logger.Error(ctx, "grant permission failed", "granted_to", req.GrantedToUser, "error", err)
		return nil, toStatus(err)
	}
	s.logger.Info(ctx, "permission granted", "id", p.ID, "granted_to", p.GrantedToUser, "by", u.Email)
	return toPermission(p), nil
}

func (s *GRPCServer) RevokePermission(ctx context.Context, req *RevokePermissionRequest) (*Empty, error) {
	u, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.services.Permissions.Delete(ctx, req.PermissionID, u.ID); err != nil {
		s.logger.Error(ctx, "revoke permission failed", "id", req.PermissionID, "error", err)
		return nil, toStatus(err)
	}
	s.logger.Info(ctx, "permission revoked", "id", req.PermissionID, "by", u.Email)
	return &Empty{}, nil
}

// ListPermissions lets users read their own permissions; admins may read
// anyone's.
func (s *GRPCServer) ListPermissions(ctx context.Context, req *ListPermissionsRequest) (*ListPermissionsResponse, error) {
	u, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	target := req.UserID
	if target == 0 {
		target = u.ID
	}
	if target != u.ID && !u.IsAdmin() {
		return nil, toStatus(common.ErrorForbidden)
	}

	perms, err := s.services.Permissions.FindForUser(ctx, target)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &ListPermissionsResponse{Permissions: make([]*Permission, 0, len(perms))}
	for _, p := range perms {
		out.Permissions = append(out.Permissions, toPermission(p))
	}
	return out, nil
}

func (s *GRPCServer) CreateUploadJob(ctx context.Context, req *CreateUploadJobRequest) (*UploadJob, error) {
	u, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	job, err := s.services.Uploads.Create(ctx, uploads.CreateRequest{
		UploadType:      req.UploadType,
		UploaderEmail:   u.Email,
		MetadataPatch:   req.MetadataPatch,
		GCSFileMap:      req.GCSFileMap,
		AssayCreator:    req.AssayCreator,
		MultifileUpload: req.MultifileUpload,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toUploadJob(job), nil
}

func (s *GRPCServer) SetUploadJobStatus(ctx context.Context, req *SetUploadJobStatusRequest) (*UploadJob, error) {
	job, err := s.services.Uploads.SetStatus(ctx, req.JobID, models.UploadJobStatus(req.Status))
	if err != nil {
		return nil, toStatus(err)
	}
	return toUploadJob(job), nil
}

func (s *GRPCServer) SyncManifest(ctx context.Context, req *ManifestRequest) (*SyncManifestResponse, error) {
	u, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	r := s.services.Syncer.SyncManifest(ctx, manifests.Manifest(req.Manifest), u.Email)
	if r.Err != nil {
		return nil, toStatus(r.Err)
	}
	return &SyncManifestResponse{ManifestID: r.ManifestID, Action: r.Action, Changes: r.Changes}, nil
}

// InsertManifest adds a manifest the registry has not seen, to the trial
// document and, when maintained, to the relational mirror.
func (s *GRPCServer) InsertManifest(ctx context.Context, req *ManifestRequest) (*InsertManifestResponse, error) {
	u, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	m := manifests.Manifest(req.Manifest)
	job, err := s.services.Manifests.InsertIntoBlob(ctx, m, u.Email)
	if err != nil {
		return nil, toStatus(err)
	}
	if s.services.Manifests.Relational() {
		if err := s.services.Manifests.InsertFromJSON(ctx, m, u.Email); err != nil {
			return nil, toStatus(err)
		}
	}
	return &InsertManifestResponse{UploadJobID: job.ID}, nil
}

func (s *GRPCServer) GetTrialSummaries(ctx context.Context, req *Empty) (*TrialSummariesResponse, error) {
	u, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	summaries, err := s.services.Trials.GetSummaries(ctx, u)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TrialSummariesResponse{Summaries: summaries}, nil
}

func (s *GRPCServer) ListFiles(ctx context.Context, req *ListFilesRequest) (*ListFilesResponse, error) {
	u, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.services.Downloads.ListForUser(ctx, u, files.ListFilter{
		TrialID:    req.TrialID,
		UploadType: req.UploadType,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	out := &ListFilesResponse{Files: make([]*File, 0, len(list))}
	for _, f := range list {
		out.Files = append(out.Files, toFile(f))
	}
	return out, nil
}

func (s *GRPCServer) GetDownloadURL(ctx context.Context, req *DownloadURLRequest) (*DownloadURLResponse, error) {
	u, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	link, err := s.services.Downloads.DownloadURL(ctx, u, req.FileID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DownloadURLResponse{URL: link.URL, Expires: link.Expires}, nil
}

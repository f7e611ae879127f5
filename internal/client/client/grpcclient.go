package client

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	gs "github.com/dmitrijs2005/trialregistry/internal/server/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var _ Client = (*GRPCClient)(nil)

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	api         *gs.Client
	accessToken string
	timeout     time.Duration
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if s.accessToken != "" {
		ctx = withAccessToken(ctx, s.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewAdminClient connects to endpointURL. Extra dial options are appended
// after the defaults (insecure transport and the token interceptor).
func NewAdminClient(endpointURL, accessToken string, timeout time.Duration, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, accessToken: accessToken, timeout: timeout}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)
	conn, err := grpc.NewClient(endpointURL, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.api = gs.NewClient(conn)
	return c, nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrForbidden, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	default:
		return err
	}
}

func (s *GRPCClient) call(ctx context.Context, method string, req, resp any) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.api.Invoke(ctx, method, req, resp); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	return s.call(ctx, gs.MethodPing, &gs.Empty{}, &gs.PingResponse{})
}

func (s *GRPCClient) GrantPermission(ctx context.Context, userID int64, trial, uploadType string) (*gs.Permission, error) {
	resp := &gs.Permission{}
	req := &gs.GrantPermissionRequest{GrantedToUser: userID, TrialID: trial, UploadType: uploadType}
	if err := s.call(ctx, gs.MethodGrantPermission, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *GRPCClient) RevokePermission(ctx context.Context, permissionID int64) error {
	return s.call(ctx, gs.MethodRevokePermission, &gs.RevokePermissionRequest{PermissionID: permissionID}, &gs.Empty{})
}

func (s *GRPCClient) ListPermissions(ctx context.Context, userID int64) ([]*gs.Permission, error) {
	resp := &gs.ListPermissionsResponse{}
	if err := s.call(ctx, gs.MethodListPermissions, &gs.ListPermissionsRequest{UserID: userID}, resp); err != nil {
		return nil, err
	}
	return resp.Permissions, nil
}

func (s *GRPCClient) SetUploadJobStatus(ctx context.Context, jobID int64, st string) (*gs.UploadJob, error) {
	resp := &gs.UploadJob{}
	if err := s.call(ctx, gs.MethodSetUploadJobStatus, &gs.SetUploadJobStatusRequest{JobID: jobID, Status: st}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *GRPCClient) SyncManifest(ctx context.Context, manifest map[string]any) (*gs.SyncManifestResponse, error) {
	resp := &gs.SyncManifestResponse{}
	if err := s.call(ctx, gs.MethodSyncManifest, &gs.ManifestRequest{Manifest: manifest}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *GRPCClient) InsertManifest(ctx context.Context, manifest map[string]any) (*gs.InsertManifestResponse, error) {
	resp := &gs.InsertManifestResponse{}
	if err := s.call(ctx, gs.MethodInsertManifest, &gs.ManifestRequest{Manifest: manifest}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *GRPCClient) TrialSummaries(ctx context.Context) (*gs.TrialSummariesResponse, error) {
	resp := &gs.TrialSummariesResponse{}
	if err := s.call(ctx, gs.MethodGetTrialSummaries, &gs.Empty{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *GRPCClient) ListFiles(ctx context.Context, req *gs.ListFilesRequest) ([]*gs.File, error) {
	resp := &gs.ListFilesResponse{}
	if err := s.call(ctx, gs.MethodListFiles, req, resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (s *GRPCClient) DownloadURL(ctx context.Context, fileID int64) (*gs.DownloadURLResponse, error) {
	resp := &gs.DownloadURLResponse{}
	if err := s.call(ctx, gs.MethodGetDownloadURL, &gs.DownloadURLRequest{FileID: fileID}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

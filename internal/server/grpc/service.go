package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "trialregistry.admin.v1.AdminService"

const (
	MethodPing               = "Ping"
	MethodGrantPermission    = "GrantPermission"
	MethodRevokePermission   = "RevokePermission"
	MethodListPermissions    = "ListPermissions"
	MethodCreateUploadJob    = "CreateUploadJob"
	MethodSetUploadJobStatus = "SetUploadJobStatus"
	MethodSyncManifest       = "SyncManifest"
	MethodInsertManifest     = "InsertManifest"
	MethodGetTrialSummaries  = "GetTrialSummaries"
	MethodListFiles          = "ListFiles"
	MethodGetDownloadURL     = "GetDownloadURL"
)

// FullMethod returns the gRPC path of an AdminService method.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// AdminServer is the server side of the admin API.
type AdminServer interface {
	Ping(context.Context, *Empty) (*PingResponse, error)
	GrantPermission(context.Context, *GrantPermissionRequest) (*Permission, error)
	RevokePermission(context.Context, *RevokePermissionRequest) (*Empty, error)
	ListPermissions(context.Context, *ListPermissionsRequest) (*ListPermissionsResponse, error)
	CreateUploadJob(context.Context, *CreateUploadJobRequest) (*UploadJob, error)
	SetUploadJobStatus(context.Context, *SetUploadJobStatusRequest) (*UploadJob, error)
	SyncManifest(context.Context, *ManifestRequest) (*SyncManifestResponse, error)
	InsertManifest(context.Context, *ManifestRequest) (*InsertManifestResponse, error)
	GetTrialSummaries(context.Context, *Empty) (*TrialSummariesResponse, error)
	ListFiles(context.Context, *ListFilesRequest) (*ListFilesResponse, error)
	GetDownloadURL(context.Context, *DownloadURLRequest) (*DownloadURLResponse, error)
}

// unary adapts a typed AdminServer method to a grpc.MethodDesc.
func unary[Req, Resp any](name string, call func(AdminServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, r any) (any, error) {
				return call(srv.(AdminServer), ctx, r.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}, handler)
		},
	}
}

// AdminServiceDesc describes AdminService for grpc.Server.RegisterService.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodPing, AdminServer.Ping),
		unary(MethodGrantPermission, AdminServer.GrantPermission),
		unary(MethodRevokePermission, AdminServer.RevokePermission),
		unary(MethodListPermissions, AdminServer.ListPermissions),
		unary(MethodCreateUploadJob, AdminServer.CreateUploadJob),
		unary(MethodSetUploadJobStatus, AdminServer.SetUploadJobStatus),
		unary(MethodSyncManifest, AdminServer.SyncManifest),
		unary(MethodInsertManifest, AdminServer.InsertManifest),
		unary(MethodGetTrialSummaries, AdminServer.GetTrialSummaries),
		unary(MethodListFiles, AdminServer.ListFiles),
		unary(MethodGetDownloadURL, AdminServer.GetDownloadURL),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trialregistry/admin.json",
}

// Client calls AdminService over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Invoke calls method with req and decodes the reply into resp.
func (c *Client) Invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	return c.cc.Invoke(ctx, FullMethod(method), req, resp, opts...)
}

package grpc

import (
	"context"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/server/auth"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const userKey ctxKey = "user"

// publicMethods need no access token.
var publicMethods = map[string]struct{}{
	FullMethod(MethodPing): {},
}

// adminMethods are restricted to admins.
var adminMethods = map[string]struct{}{
	FullMethod(MethodGrantPermission):    {},
	FullMethod(MethodRevokePermission):   {},
	FullMethod(MethodCreateUploadJob):    {},
	FullMethod(MethodSetUploadJobStatus): {},
	FullMethod(MethodSyncManifest):       {},
	FullMethod(MethodInsertManifest):     {},
}

// CurrentUser returns the user an authenticated call is made by.
func CurrentUser(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey).(*models.User)
	return u, ok
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if _, ok := publicMethods[info.FullMethod]; ok {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.AccessTokenHeaderName); len(values) > 0 {
			accessToken = values[0]
		}
	}
	if accessToken == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	userID, err := auth.GetUserIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	user, err := s.services.Users.CurrentUser(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.services.Users.UpdateAccessed(ctx, user); err != nil {
		s.logger.Warn(ctx, "could not record user access", "user_id", user.ID, "error", err)
	}

	if _, ok := adminMethods[info.FullMethod]; ok && !user.IsAdmin() {
		return nil, status.Error(codes.PermissionDenied, "admin role required")
	}

	return handler(context.WithValue(ctx, userKey, user), req)
}

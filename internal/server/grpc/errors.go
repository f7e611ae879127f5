package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps domain errors onto gRPC status codes. Unknown errors are
// reported as Internal without their message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrUnknownTrial):
		code = codes.NotFound
	case errors.Is(err, common.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, common.ErrNewManifest), errors.Is(err, common.ErrCriticalFieldChange),
		errors.Is(err, common.ErrUnknownCollectionEvent), errors.Is(err, common.ErrAllowListViolation):
		code = codes.FailedPrecondition
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrInvalidTransition),
		errors.Is(err, common.ErrBothWildcards):
		code = codes.InvalidArgument
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		code = codes.Unauthenticated
	case errors.Is(err, common.ErrorForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, common.ErrIAMGrantFailed), errors.Is(err, common.ErrIAMRevokeFailed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

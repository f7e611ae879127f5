package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Validation errors.
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBothWildcards     = errors.New("permission cannot be cross-trial and cross-upload-type at once")

	// Conflict errors raised by manifest reconciliation.
	ErrNewManifest         = errors.New("new manifest")
	ErrCriticalFieldChange = errors.New("change in critical field")
	ErrAllowListViolation  = errors.New("value not in trial allow-list")

	// Referential errors.
	ErrUnknownCollectionEvent = errors.New("no such collection event")
	ErrUnknownTrial           = errors.New("trial does not exist")

	// Infrastructure errors surfaced by the permission lifecycle.
	ErrIAMGrantFailed  = errors.New("IAM grant failed")
	ErrIAMRevokeFailed = errors.New("IAM revoke failed, and permission db record not removed")
)

// ValidationError carries every human-readable validation message
// produced for a single document.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation error: " + strings.Join(e.Messages, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError from formatted messages.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Messages: []string{fmt.Sprintf(format, args...)}}
}

// MultiError aggregates independent failures collected during a batch.
type MultiError struct {
	Errs []error
}

func (e *MultiError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return "multiple errors: [" + strings.Join(msgs, "\n") + "]"
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *MultiError) Unwrap() []error { return e.Errs }

// AsMultiError returns nil for an empty slice, the single error for one
// element, and a *MultiError otherwise.
func AsMultiError(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return &MultiError{Errs: errs}
	}
}

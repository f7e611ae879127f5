// Package client talks to the registry admin API over gRPC.
//
// GRPCClient attaches the configured access token to every call, applies
// a per-call deadline and maps gRPC status codes to the sentinel errors
// below so callers can match them with errors.Is.
package client

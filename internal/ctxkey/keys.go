// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with the request_id field.
type LoggerKey struct{}

// RequestIDKey is the context key type for the per-request identifier.
type RequestIDKey struct{}

// ClientIPKey is the context key type for the caller's extracted real IP.
type ClientIPKey struct{}

// APIKeyKey is the context key type for a raw bearer token extracted from
// the Authorization header, before it is digested for audit purposes.
type APIKeyKey struct{}

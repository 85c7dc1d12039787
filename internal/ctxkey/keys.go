// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with request_id/tenant_id fields.
type LoggerKey struct{}

// APIKeyKey is the context key type for the caller's raw API key, set by
// APIKeyMiddleware once extracted from the Authorization header.
type APIKeyKey struct{}

// IdentityKey is the context key type for the identity resolved from the
// API key (user_id, roles, tenant_id). No middleware in this module stores
// a value under it.
type IdentityKey struct{}

// IPAddressKey is the context key type for the caller's real IP address,
// set by RealIPMiddleware.
type IPAddressKey struct{}

// CorrelationIDKey is the context key type for the request's correlation
// ID, set by CorrelationIDMiddleware.
type CorrelationIDKey struct{}

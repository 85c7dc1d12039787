// Package ratelimit provides rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// RateLimitConfig defines the rate limiting parameters for one sliding
// window. Rate <= 0 means the tool carries no configured cap: Allow must
// admit every request without tracking it.
type RateLimitConfig struct {
	// Rate is the maximum number of events allowed within Period.
	Rate int

	// Period is the sliding window size.
	Period time.Duration
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the configured cap for this window (RateLimitConfig.Rate),
	// echoed back so transports can render X-RateLimit-Limit.
	Limit int

	// Remaining is the number of remaining requests in the current window.
	Remaining int

	// RetryAfter is the duration until the next request will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// ResetAfter is the duration until the oldest request in the window
	// ages out.
	ResetAfter time.Duration
}

// KeyType identifies the type of rate limit key.
type KeyType string

const (
	// KeyTypeIP is for IP-based rate limiting.
	KeyTypeIP KeyType = "ip"

	// KeyTypeUser is for user/API key-based rate limiting.
	KeyTypeUser KeyType = "user"

	// KeyTypeToolCall is for (subject, tool) gateway pipeline rate
	// limiting, keyed by FormatToolKey.
	KeyTypeToolCall KeyType = "toolcall"
)

// FormatToolKey returns the rate limit key for a (subject, tool) pair, as
// used by the gateway orchestrator's rate-limit stage.
func FormatToolKey(subjectID, toolName string) string {
	return FormatKey(KeyTypeToolCall, subjectID+":"+toolName)
}

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// FormatKey returns a structured rate limit key.
// Format: "ratelimit:{type}:{value}"
// Examples:
//   - FormatKey(KeyTypeIP, "192.168.1.1") -> "ratelimit:ip:192.168.1.1"
//   - FormatKey(KeyTypeUser, "user-123") -> "ratelimit:user:user-123"
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, value)
}

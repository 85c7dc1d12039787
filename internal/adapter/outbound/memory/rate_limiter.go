// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/ratelimit"
)

// MemoryRateLimiter implements ratelimit.RateLimiter as a sliding-window
// log: one timestamp deque per key, trimmed to the configured window on
// every call. Thread-safe for concurrent access. Single-process only; a
// multi-replica deployment needs a KV-backed implementation preserving
// the same contract.
type MemoryRateLimiter struct {
	windows         map[string][]time.Time
	touched         map[string]time.Time
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
}

// NewRateLimiter creates a new in-memory rate limiter with default cleanup settings.
// Default cleanup interval: 5 minutes, default maxTTL: 1 hour.
func NewRateLimiter() *MemoryRateLimiter {
	return NewRateLimiterWithConfig(5*time.Minute, 1*time.Hour)
}

// NewRateLimiterWithConfig creates a new in-memory rate limiter with custom cleanup settings.
// cleanupInterval: how often to run cleanup (e.g., 5 minutes)
// maxTTL: maximum idle time for a key before removal (e.g., 1 hour)
func NewRateLimiterWithConfig(cleanupInterval, maxTTL time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		windows:         make(map[string][]time.Time),
		touched:         make(map[string]time.Time),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
	}
}

// Allow trims entries older than now-Period from key's bucket, checks the
// trimmed length against config.Rate, and appends an entry if under the
// limit. A non-positive config.Rate means the tool has no configured cap:
// every call is allowed and nothing is tracked.
func (r *MemoryRateLimiter) Allow(ctx context.Context, key string, config ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
	if config.Rate <= 0 {
		return ratelimit.RateLimitResult{Allowed: true}, nil
	}
	window := config.Period
	if window <= 0 {
		window = time.Minute
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)
	bucket := trimOlderThan(r.windows[key], cutoff)

	if len(bucket) >= config.Rate {
		r.windows[key] = bucket
		r.touched[key] = now
		retryAfter := bucket[0].Add(window).Sub(now)
		return ratelimit.RateLimitResult{
			Allowed:    false,
			Limit:      config.Rate,
			Remaining:  0,
			RetryAfter: retryAfter,
			ResetAfter: retryAfter,
		}, nil
	}

	bucket = append(bucket, now)
	r.windows[key] = bucket
	r.touched[key] = now

	resetAfter := window
	if len(bucket) > 0 {
		resetAfter = bucket[0].Add(window).Sub(now)
	}
	remaining := config.Rate - len(bucket)
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.RateLimitResult{
		Allowed:    true,
		Limit:      config.Rate,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}, nil
}

// trimOlderThan drops every entry at or before cutoff. Bucket entries are
// appended in non-decreasing time order, so this only needs to scan the
// prefix.
func trimOlderThan(bucket []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(bucket) && !bucket[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return bucket
	}
	return append(bucket[:0:0], bucket[i:]...)
}

// StartCleanup starts the background cleanup goroutine.
// The goroutine periodically removes keys idle longer than maxTTL.
// It stops when ctx is cancelled or Stop() is called.
func (r *MemoryRateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes keys whose bucket has seen no activity in maxTTL.
// This method acquires a write lock and should only be called
// by the background cleanup goroutine.
func (r *MemoryRateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.maxTTL)
	cleaned := 0

	for key, last := range r.touched {
		if last.Before(cutoff) {
			delete(r.touched, key)
			delete(r.windows, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.windows))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *MemoryRateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked keys.
// Useful for testing and monitoring memory usage.
func (r *MemoryRateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Compile-time interface verification.
var _ ratelimit.RateLimiter = (*MemoryRateLimiter)(nil)

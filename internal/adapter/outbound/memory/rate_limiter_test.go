// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/ratelimit"
	"go.uber.org/goleak"
)

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()

	config := ratelimit.RateLimitConfig{Rate: 10, Period: time.Second}

	result, err := limiter.Allow(ctx, "test-key", config)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !result.Allowed {
		t.Error("First request should be allowed")
	}
	if result.Limit != 10 {
		t.Errorf("Limit = %d, want 10", result.Limit)
	}
	if result.Remaining != 9 {
		t.Errorf("Remaining = %d, want 9", result.Remaining)
	}
}

// TestRateLimiter_TenAllowedEleventhDenied mirrors the gateway's documented
// scenario: 10 calls to a tool capped at 10 per window succeed, the 11th
// is denied with zero remaining.
func TestRateLimiter_TenAllowedEleventhDenied(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()
	config := ratelimit.RateLimitConfig{Rate: 10, Period: time.Minute}

	for i := 0; i < 10; i++ {
		result, err := limiter.Allow(ctx, "rate_limited_tool", config)
		if err != nil {
			t.Fatalf("Allow() error on call %d: %v", i+1, err)
		}
		if !result.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	eleventh, err := limiter.Allow(ctx, "rate_limited_tool", config)
	if err != nil {
		t.Fatalf("Allow() error on 11th call: %v", err)
	}
	if eleventh.Allowed {
		t.Fatal("11th call should be denied")
	}
	if eleventh.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", eleventh.Remaining)
	}
}

func TestRateLimiter_NoConfiguredLimitIsUnlimited(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()
	config := ratelimit.RateLimitConfig{Rate: 0, Period: time.Second}

	for i := 0; i < 50; i++ {
		result, err := limiter.Allow(ctx, "unlimited_tool", config)
		if err != nil {
			t.Fatalf("Allow() error on call %d: %v", i+1, err)
		}
		if !result.Allowed {
			t.Fatalf("call %d should be allowed: tool has no configured cap", i+1)
		}
	}
	if limiter.Size() != 0 {
		t.Errorf("Size() = %d, unlimited calls should not be tracked", limiter.Size())
	}
}

func TestRateLimiter_DifferentKeysIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()
	config := ratelimit.RateLimitConfig{Rate: 1, Period: time.Minute}

	if _, err := limiter.Allow(ctx, "key-1", config); err != nil {
		t.Fatalf("Allow() error: %v", err)
	}

	result, err := limiter.Allow(ctx, "key-2", config)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !result.Allowed {
		t.Error("key-2 should be allowed: keys are isolated")
	}

	denied, err := limiter.Allow(ctx, "key-1", config)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if denied.Allowed {
		t.Error("key-1 second call should be denied: limit is 1")
	}
}

func TestRateLimiter_WindowRecovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()
	config := ratelimit.RateLimitConfig{Rate: 1, Period: 100 * time.Millisecond}

	first, err := limiter.Allow(ctx, "recovery-key", config)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !first.Allowed {
		t.Fatal("first request should be allowed")
	}

	denied, err := limiter.Allow(ctx, "recovery-key", config)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if denied.Allowed {
		t.Fatal("second immediate request should be denied")
	}

	time.Sleep(150 * time.Millisecond)

	recovered, err := limiter.Allow(ctx, "recovery-key", config)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !recovered.Allowed {
		t.Error("request after window elapses should be allowed")
	}
}

func TestRateLimiter_RemainingNonNegative(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()
	config := ratelimit.RateLimitConfig{Rate: 5, Period: time.Second}

	for i := 0; i < 20; i++ {
		result, err := limiter.Allow(ctx, "remaining-key", config)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if result.Remaining < 0 {
			t.Errorf("request %d: Remaining = %d, should never be negative", i, result.Remaining)
		}
	}
}

func TestRateLimiter_ResetAfterPositive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()
	config := ratelimit.RateLimitConfig{Rate: 5, Period: time.Second}

	result, err := limiter.Allow(ctx, "reset-key", config)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if result.ResetAfter <= 0 {
		t.Errorf("ResetAfter = %v, should be positive for allowed request", result.ResetAfter)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()
	config := ratelimit.RateLimitConfig{Rate: 50, Period: time.Second}

	var wg sync.WaitGroup
	errCh := make(chan error, 100)
	allowedCount := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := limiter.Allow(ctx, "concurrent-key", config)
			if err != nil {
				errCh <- err
				return
			}
			allowedCount <- result.Allowed
		}()
	}

	wg.Wait()
	close(errCh)
	close(allowedCount)

	for err := range errCh {
		t.Errorf("concurrent access error: %v", err)
	}

	allowed := 0
	for a := range allowedCount {
		if a {
			allowed++
		}
	}
	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly 50 (the configured rate)", allowed)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiterWithConfig(100*time.Millisecond, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	config := ratelimit.RateLimitConfig{Rate: 10, Period: time.Second}

	keys := []string{"cleanup-key-1", "cleanup-key-2", "cleanup-key-3"}
	for _, key := range keys {
		if _, err := limiter.Allow(ctx, key, config); err != nil {
			t.Fatalf("Allow() error for %s: %v", key, err)
		}
	}

	if initialSize := limiter.Size(); initialSize != len(keys) {
		t.Errorf("expected %d keys after adding, got %d", len(keys), initialSize)
	}

	time.Sleep(400 * time.Millisecond)

	if finalSize := limiter.Size(); finalSize != 0 {
		t.Errorf("expected 0 keys after cleanup, got %d", finalSize)
	}
}

func TestRateLimiterNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewRateLimiterWithConfig(50*time.Millisecond, 100*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	limiter.StartCleanup(ctx)

	config := ratelimit.RateLimitConfig{Rate: 10, Period: time.Second}
	for i := 0; i < 10; i++ {
		_, _ = limiter.Allow(ctx, "leak-test-key", config)
	}

	time.Sleep(150 * time.Millisecond)

	cancel()
	limiter.Stop()
}

func TestRateLimiterStopMultipleCalls(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiterWithConfig(100*time.Millisecond, 1*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter.StartCleanup(ctx)
	limiter.Stop()
	limiter.Stop()
	limiter.Stop()
}

func TestRateLimiterContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewRateLimiterWithConfig(50*time.Millisecond, 100*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	limiter.StartCleanup(ctx)

	config := ratelimit.RateLimitConfig{Rate: 10, Period: time.Second}
	_, _ = limiter.Allow(ctx, "ctx-cancel-key", config)

	cancel()
	limiter.Stop()
}

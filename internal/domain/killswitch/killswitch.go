// Package killswitch implements the three-namespace (global, tool,
// session) containment flag backed by a distributed KV. Every KV read is
// fail-closed: unavailability is treated as blocked.
package killswitch

import "context"

// KV is the minimal distributed-flag port the kill switch needs: set a
// flag with a reason, check existence plus its reason, and delete it.
// Implementations are externally synchronized; the client here only
// retries.
type KV interface {
	Set(ctx context.Context, key, reason string) error
	Get(ctx context.Context, key string) (reason string, ok bool, err error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

const (
	globalKey = "prefix:global"
)

func toolKey(tool string) string    { return "prefix:tool:" + tool }
func sessionKey(session string) string { return "prefix:session:" + session }

// Unavailable is the fail-closed reason returned when the KV cannot be
// reached after retries.
const Unavailable = "Kill switch unavailable"

// Switch is the kill-switch service: three-namespace precedence global >
// tool > session, wrapping KV reads with a retry-once policy. There is no
// reconnect or pool reset between attempts, and writes are not retried.
type Switch struct {
	kv         KV
	maxRetries int
}

// New wraps kv with the standard retry policy: a failed Get is retried
// once, immediately and on the same connection, before the failure is
// surfaced.
func New(kv KV) *Switch {
	return &Switch{kv: kv, maxRetries: 1}
}

// Blocked checks, in strict precedence, whether the call is blocked by a
// global, tool-level, or session-level kill switch. On persistent KV
// failure it fails closed: blocked=true, reason=Unavailable.
func (s *Switch) Blocked(ctx context.Context, tool, session string) (blocked bool, reason string) {
	for _, key := range []string{globalKey, toolKey(tool), sessionKey(session)} {
		reason, ok, err := s.getWithRetry(ctx, key)
		if err != nil {
			return true, Unavailable
		}
		if ok {
			return true, reason
		}
	}
	return false, ""
}

func (s *Switch) getWithRetry(ctx context.Context, key string) (string, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		reason, ok, err := s.kv.Get(ctx, key)
		if err == nil {
			return reason, ok, nil
		}
		lastErr = err
	}
	return "", false, lastErr
}

// KillSession sets the session-level kill switch. Returns false on
// failure (writes are not fail-closed; the caller decides how to surface
// the failure).
func (s *Switch) KillSession(ctx context.Context, sessionID, reason string) bool {
	return s.kv.Set(ctx, sessionKey(sessionID), reason) == nil
}

// KillTool sets the tool-level kill switch.
func (s *Switch) KillTool(ctx context.Context, tool, reason string) bool {
	return s.kv.Set(ctx, toolKey(tool), reason) == nil
}

// GlobalPause sets the global kill switch.
func (s *Switch) GlobalPause(ctx context.Context, reason string) bool {
	return s.kv.Set(ctx, globalKey, reason) == nil
}

// Resume clears the global kill switch.
func (s *Switch) Resume(ctx context.Context) bool {
	return s.kv.Delete(ctx, globalKey) == nil
}

// ReleaseSession clears only the session-level kill switch. Per the
// resolved open question, release never touches tool- or global-level
// switches.
func (s *Switch) ReleaseSession(ctx context.Context, sessionID string) bool {
	return s.kv.Delete(ctx, sessionKey(sessionID)) == nil
}

// Health pings the backing KV.
func (s *Switch) Health(ctx context.Context) bool {
	return s.kv.Ping(ctx) == nil
}

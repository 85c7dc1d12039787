package policy

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SystemAutoExpired marks an exception revoked by expiry rather than by an
// operator.
const SystemAutoExpired = "system:auto-expired"

// Exception is a time-bound policy override keyed by {tool_name,
// session_id|tenant_id}.
type Exception struct {
	ExceptionID string
	ToolName    string
	Reason      string
	CreatedBy   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	SessionID   string
	TenantID    string
	RevokedBy   string
	RevokedAt   *time.Time
}

// Status derives the exception's lifecycle state.
func (e Exception) Status(now time.Time) string {
	switch {
	case e.RevokedBy == SystemAutoExpired:
		return "expired"
	case e.RevokedAt != nil:
		return "revoked"
	default:
		return "active"
	}
}

func (e Exception) isActive(now time.Time) bool {
	return e.RevokedAt == nil
}

// ExceptionManager is an in-memory registry of policy exceptions guarded
// by a single mutex; critical sections never perform I/O. Now is
// injectable so tests can control expiry deterministically.
type ExceptionManager struct {
	mu         sync.Mutex
	exceptions map[string]*Exception
	Now        func() time.Time
}

// NewExceptionManager returns an empty manager using time.Now as its clock.
func NewExceptionManager() *ExceptionManager {
	return &ExceptionManager{
		exceptions: make(map[string]*Exception),
		Now:        time.Now,
	}
}

// CreateExceptionInput describes a new exception request.
type CreateExceptionInput struct {
	ToolName        string
	Reason          string
	CreatedBy       string
	ExpiresInSecond int
	SessionID       string
	TenantID        string
}

// Create validates and registers a new exception. Requires session_id or
// tenant_id to be set, and a positive expiry.
func (m *ExceptionManager) Create(in CreateExceptionInput) (*Exception, error) {
	if in.SessionID == "" && in.TenantID == "" {
		return nil, errors.New("exception requires session_id or tenant_id")
	}
	if in.ExpiresInSecond < 1 {
		return nil, errors.New("expires_in_seconds must be >= 1")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	exc := &Exception{
		ExceptionID: "pex-" + uuid.NewString(),
		ToolName:    in.ToolName,
		Reason:      in.Reason,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(in.ExpiresInSecond) * time.Second),
		SessionID:   in.SessionID,
		TenantID:    in.TenantID,
	}
	m.exceptions[exc.ExceptionID] = exc
	return exc, nil
}

// Revoke marks an exception revoked by an operator. No-op if already
// revoked.
func (m *ExceptionManager) Revoke(exceptionID, revokedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exc, ok := m.exceptions[exceptionID]
	if !ok {
		return errors.New("exception not found")
	}
	if exc.RevokedAt != nil {
		return nil
	}
	now := m.Now()
	exc.RevokedAt = &now
	exc.RevokedBy = revokedBy
	return nil
}

// List returns exceptions sorted most-recent-first, auto-expiring stale
// entries first. When includeInactive is false, revoked/expired entries
// are filtered out.
func (m *ExceptionManager) List(includeInactive bool) []Exception {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()

	out := make([]Exception, 0, len(m.exceptions))
	for _, exc := range m.exceptions {
		if !includeInactive && !exc.isActive(m.Now()) {
			continue
		}
		out = append(out, *exc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Match returns the single most-recent active exception matching toolName
// and, if set, sessionID or tenantID from the request context. Returns nil
// when no exception matches.
func (m *ExceptionManager) Match(toolName, sessionID, tenantID string) *Exception {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()

	var best *Exception
	for _, exc := range m.exceptions {
		if !exc.isActive(m.Now()) || exc.ToolName != toolName {
			continue
		}
		if exc.SessionID != "" && exc.SessionID != sessionID {
			continue
		}
		if exc.TenantID != "" && exc.TenantID != tenantID {
			continue
		}
		if best == nil || exc.CreatedAt.After(best.CreatedAt) {
			c := *exc
			best = &c
		}
	}
	return best
}

func (m *ExceptionManager) expireLocked() {
	now := m.Now()
	for _, exc := range m.exceptions {
		if exc.RevokedAt == nil && !exc.ExpiresAt.After(now) {
			n := now
			exc.RevokedAt = &n
			exc.RevokedBy = SystemAutoExpired
		}
	}
}

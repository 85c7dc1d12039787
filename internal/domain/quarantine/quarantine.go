// Package quarantine implements the incident state machine: a rolling
// risk score per session that, once it crosses a threshold, revokes
// credentials and kills the session.
package quarantine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusQuarantined Status = "quarantined"
	StatusRevoked     Status = "revoked"
	StatusFailed      Status = "failed"
	StatusReleased    Status = "released"
)

func isActive(s Status) bool {
	return s == StatusQuarantined || s == StatusRevoked || s == StatusFailed
}

// Record is a persisted incident.
type Record struct {
	IncidentID string
	SessionID  string
	Status     Status
	RiskScore  int
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ReleasedBy string
	ReleasedAt *time.Time
}

// EventType names one incident state transition.
type EventType string

const (
	EventQuarantined      EventType = "quarantined"
	EventRevoked          EventType = "revoked"
	EventRevocationFailed EventType = "revocation_failed"
	EventReleased         EventType = "released"
)

// IncidentEvent is one append-only transition row in an incident's
// history: quarantine records current state, IncidentEvent records how
// it got there. One is persisted per transition.
type IncidentEvent struct {
	EventID    string
	IncidentID string
	EventType  EventType
	Detail     string
	Timestamp  time.Time
}

// Store persists incidents. CreateIncident must be idempotent: a storage
// uniqueness violation on (session_id, active) means the caller should
// reload the existing active incident instead of failing.
type Store interface {
	CreateIncident(ctx context.Context, rec *Record) error
	UpdateIncident(ctx context.Context, rec *Record) error
	ActiveIncidents(ctx context.Context) ([]Record, error)
	AddIncidentEvent(ctx context.Context, event IncidentEvent) error
}

// CredentialRevoker revokes credentials bound to a session.
type CredentialRevoker interface {
	RevokeCredentials(ctx context.Context, sessionID, reason string) (bool, string)
}

// SessionKiller kills a session's kill switch.
type SessionKiller interface {
	KillSession(ctx context.Context, sessionID, reason string) bool
	ReleaseSession(ctx context.Context, sessionID string) bool
}

// risk weights per observed outcome, per the design.
const (
	riskDeny             = 4
	riskRequireApproval  = 2
	riskError            = 1
	riskNone             = 0
	// DefaultThreshold is the score at which a session is quarantined.
	DefaultThreshold = 6
)

// Coordinator accumulates per-session risk scores and drives the incident
// state machine. Its public methods hold a single mutex and never perform
// I/O while holding it except where noted (incident persistence must
// happen before releasing, since the in-memory map is the source of truth
// for "is this session currently active").
type Coordinator struct {
	mu        sync.Mutex
	scores    map[string]int
	active    map[string]*Record // sessionID -> active incident
	store     Store
	revoker   CredentialRevoker
	killer    SessionKiller
	Threshold int
}

// New builds a Coordinator. Call Bootstrap once at startup to reconcile
// in-memory state from the trace store.
func New(store Store, revoker CredentialRevoker, killer SessionKiller) *Coordinator {
	return &Coordinator{
		scores:    make(map[string]int),
		active:    make(map[string]*Record),
		store:     store,
		revoker:   revoker,
		killer:    killer,
		Threshold: DefaultThreshold,
	}
}

// Bootstrap reconciles the coordinator's in-memory maps from the trace
// store by scanning all active incidents and keeping the most-recent per
// session, so quarantine state survives a restart.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	records, err := c.store.ActiveIncidents(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range records {
		rec := records[i]
		if !isActive(rec.Status) {
			continue
		}
		existing, ok := c.active[rec.SessionID]
		if !ok || rec.UpdatedAt.After(existing.UpdatedAt) {
			r := rec
			c.active[rec.SessionID] = &r
		}
	}
	return nil
}

// IsQuarantined reports whether session has an active incident.
func (c *Coordinator) IsQuarantined(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.active[sessionID]
	return ok && isActive(rec.Status)
}

// Outcome is one pipeline result reported for risk scoring.
type Outcome struct {
	SessionID string
	Action    string // ALLOW | DENY | REQUIRE_APPROVAL
	HadError  bool
}

func scoreFor(o Outcome) int {
	switch {
	case o.Action == "DENY":
		return riskDeny
	case o.Action == "REQUIRE_APPROVAL":
		return riskRequireApproval
	case o.HadError:
		return riskError
	default:
		return riskNone
	}
}

// ObserveOutcome adds the risk weight for o's outcome to the session's
// rolling score and, if the score crosses Threshold, transitions the
// session into quarantine. Must not block the response on anything but
// its own trace writes.
func (c *Coordinator) ObserveOutcome(ctx context.Context, o Outcome) error {
	c.mu.Lock()
	if c.IsQuarantinedLocked(o.SessionID) {
		c.mu.Unlock()
		return nil
	}
	c.scores[o.SessionID] += scoreFor(o)
	score := c.scores[o.SessionID]
	crossed := score >= c.Threshold
	c.mu.Unlock()

	if !crossed {
		return nil
	}
	return c.quarantine(ctx, o.SessionID, score)
}

// IsQuarantinedLocked is IsQuarantined for callers already holding mu.
func (c *Coordinator) IsQuarantinedLocked(sessionID string) bool {
	rec, ok := c.active[sessionID]
	return ok && isActive(rec.Status)
}

func (c *Coordinator) quarantine(ctx context.Context, sessionID string, score int) error {
	now := time.Now().UTC()
	rec := &Record{
		IncidentID: uuid.NewString(),
		SessionID:  sessionID,
		Status:     StatusQuarantined,
		RiskScore:  score,
		Reason:     "risk score threshold exceeded",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := c.store.CreateIncident(ctx, rec); err != nil {
		if isUniquenessError(err) {
			existing, lookupErr := c.reloadActive(ctx, sessionID)
			if lookupErr == nil && existing != nil {
				c.setActive(existing)
				return nil
			}
		}
		return err
	}
	c.setActive(rec)
	c.recordEvent(ctx, rec.IncidentID, EventQuarantined, sessionID+":"+rec.Reason)

	ok, detail := c.revoker.RevokeCredentials(ctx, sessionID, rec.Reason)
	revocationTime := time.Now().UTC()
	eventType := EventRevoked
	if ok {
		rec.Status = StatusRevoked
	} else {
		rec.Status = StatusFailed
		eventType = EventRevocationFailed
	}
	rec.UpdatedAt = revocationTime
	if err := c.store.UpdateIncident(ctx, rec); err != nil {
		return err
	}
	c.setActive(rec)
	c.recordEvent(ctx, rec.IncidentID, eventType, detail)

	c.killer.KillSession(ctx, sessionID, rec.Reason)
	return nil
}

// recordEvent persists one incident transition row. A failure here never
// aborts the transition itself: the incident's current state (Record) is
// already durable, and a missing history row is a gap in the audit trail,
// not a correctness issue for the state machine.
func (c *Coordinator) recordEvent(ctx context.Context, incidentID string, eventType EventType, detail string) {
	_ = c.store.AddIncidentEvent(ctx, IncidentEvent{
		EventID:    uuid.NewString(),
		IncidentID: incidentID,
		EventType:  eventType,
		Detail:     detail,
		Timestamp:  time.Now().UTC(),
	})
}

func (c *Coordinator) reloadActive(ctx context.Context, sessionID string) (*Record, error) {
	records, err := c.store.ActiveIncidents(ctx)
	if err != nil {
		return nil, err
	}
	var best *Record
	for i := range records {
		rec := records[i]
		if rec.SessionID != sessionID || !isActive(rec.Status) {
			continue
		}
		if best == nil || rec.UpdatedAt.After(best.UpdatedAt) {
			r := rec
			best = &r
		}
	}
	return best, nil
}

func (c *Coordinator) setActive(rec *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[rec.SessionID] = rec
}

// isUniquenessError matches the substrings SQLite/Postgres use for a
// unique-constraint violation.
func isUniquenessError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key value")
}

// Release sets an incident's status to released, clears only the
// session-level kill switch (never tool- or global-level), and drops the
// in-memory active-incident binding.
func (c *Coordinator) Release(ctx context.Context, sessionID, releasedBy string) error {
	c.mu.Lock()
	rec, ok := c.active[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	now := time.Now().UTC()
	rec.Status = StatusReleased
	rec.ReleasedBy = releasedBy
	rec.ReleasedAt = &now
	rec.UpdatedAt = now
	if err := c.store.UpdateIncident(ctx, rec); err != nil {
		return err
	}
	c.recordEvent(ctx, rec.IncidentID, EventReleased, releasedBy)

	c.killer.ReleaseSession(ctx, sessionID)

	c.mu.Lock()
	delete(c.active, sessionID)
	delete(c.scores, sessionID)
	c.mu.Unlock()
	return nil
}

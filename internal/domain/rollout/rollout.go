// Package rollout implements the canary gate that decides whether a
// replayed candidate policy may promote, based on a drift budget.
package rollout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/replay"
)

// Budget bounds acceptable drift for a canary promotion.
type Budget struct {
	MaxCritical   int
	MaxHigh       int
	MaxErrorRate  float64
}

// DefaultBudget matches the design's defaults.
func DefaultBudget() Budget {
	return Budget{MaxCritical: 0, MaxHigh: 2, MaxErrorRate: 0.02}
}

// Verdict is pass or fail.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// Decision is the canary evaluator's output.
type Decision struct {
	Verdict  Verdict
	Reason   string
	Critical int
	High     int
}

// Evaluate checks summary/error-rate against budget. The first budget
// breach determines the failure reason, in order: critical, high, error
// rate.
func Evaluate(summary replay.Summary, errorRate float64, budget Budget) Decision {
	critical := summary.BySeverity[string(replay.SeverityCritical)]
	high := summary.BySeverity[string(replay.SeverityHigh)]

	switch {
	case critical > budget.MaxCritical:
		return Decision{Verdict: VerdictFail, Reason: "Critical drift exceeds budget", Critical: critical, High: high}
	case high > budget.MaxHigh:
		return Decision{Verdict: VerdictFail, Reason: "High drift exceeds budget", Critical: critical, High: high}
	case errorRate > budget.MaxErrorRate:
		return Decision{Verdict: VerdictFail, Reason: "Error rate exceeds budget", Critical: critical, High: high}
	default:
		return Decision{Verdict: VerdictPass, Reason: "Within drift budget", Critical: critical, High: high}
	}
}

// Status is a rollout's lifecycle state.
type Status string

const (
	StatusPromoting  Status = "promoting"
	StatusCompleted  Status = "completed"
	StatusRolledBack Status = "rolled_back"
)

// Record is a persisted rollout.
type Record struct {
	RolloutID        string
	TenantID         string
	BaselineVersion  string
	CandidateVersion string
	Status           Status
	Verdict          Verdict
	RolledBack       bool
	Critical         int
	High             int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ErrorRater reports the current live error rate for a tenant, used when
// the caller does not supply one explicitly.
type ErrorRater interface {
	ErrorRate(ctx context.Context, tenantID string) float64
}

// Store persists rollout records.
type Store interface {
	CreateRollout(ctx context.Context, rec *Record) error
	GetRollout(ctx context.Context, rolloutID string) (*Record, error)
	FindRollout(ctx context.Context, tenantID, baselineVersion, candidateVersion string) (*Record, error)
	UpdateRollout(ctx context.Context, rec *Record) error
}

// Controller drives rollout lifecycle transitions.
type Controller struct {
	store   Store
	metrics ErrorRater
	Budget  Budget
}

// NewController builds a Controller with the default budget.
func NewController(store Store, metrics ErrorRater) *Controller {
	return &Controller{store: store, metrics: metrics, Budget: DefaultBudget()}
}

// StartInput describes a rollout start request.
type StartInput struct {
	TenantID         string
	BaselineVersion  string
	CandidateVersion string
	Summary          replay.Summary
	ErrorRate        *float64
}

// Start evaluates the canary gate and creates a rollout record. Starting a
// second rollout for the same {tenant, baseline, candidate} triple returns
// the existing record (idempotent).
func (c *Controller) Start(ctx context.Context, in StartInput) (*Record, Decision, error) {
	if existing, err := c.store.FindRollout(ctx, in.TenantID, in.BaselineVersion, in.CandidateVersion); err == nil && existing != nil {
		return existing, Decision{Verdict: existing.Verdict, Critical: existing.Critical, High: existing.High}, nil
	}

	errorRate := 0.0
	if in.ErrorRate != nil {
		errorRate = *in.ErrorRate
	} else if c.metrics != nil {
		errorRate = c.metrics.ErrorRate(ctx, in.TenantID)
	}

	decision := Evaluate(in.Summary, errorRate, c.Budget)
	now := time.Now().UTC()
	rec := &Record{
		RolloutID:        "rollout-" + uuid.NewString(),
		TenantID:         in.TenantID,
		BaselineVersion:  in.BaselineVersion,
		CandidateVersion: in.CandidateVersion,
		Verdict:          decision.Verdict,
		Critical:         decision.Critical,
		High:             decision.High,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if decision.Verdict == VerdictFail {
		rec.Status = StatusRolledBack
		rec.RolledBack = true
	} else {
		rec.Status = StatusPromoting
	}

	if err := c.store.CreateRollout(ctx, rec); err != nil {
		return nil, Decision{}, err
	}
	return rec, decision, nil
}

// Advance moves a promoting rollout to completed. No-op otherwise.
func (c *Controller) Advance(ctx context.Context, rolloutID string) error {
	rec, err := c.store.GetRollout(ctx, rolloutID)
	if err != nil {
		return err
	}
	if rec.Status != StatusPromoting {
		return nil
	}
	rec.Status = StatusCompleted
	rec.UpdatedAt = time.Now().UTC()
	return c.store.UpdateRollout(ctx, rec)
}

// Rollback forces a rollout to rolled_back with a fail verdict. The reason
// argument is not stored; Record has no field for it.
func (c *Controller) Rollback(ctx context.Context, rec *Record, reason string) error {
	rec.Status = StatusRolledBack
	rec.RolledBack = true
	rec.Verdict = VerdictFail
	rec.UpdatedAt = time.Now().UTC()
	return c.store.UpdateRollout(ctx, rec)
}

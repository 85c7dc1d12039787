// Package replay diffs a candidate policy evaluator against a baseline
// over historical trace events.
package replay

import (
	"context"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
)

// Run binds a baseline and candidate policy version to a session scope.
type Run struct {
	RunID            string
	BaselineVersion  string
	CandidateVersion string
	SessionID        string
	Status           string // running | completed
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// Severity classifies how much a delta between baseline and candidate
// matters.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Root cause labels for a delta.
const (
	CauseAccessRestricted    = "access_restricted"
	CauseAccessExpanded      = "access_expanded"
	CauseApprovalPathChanged = "approval_path_changed"
	CauseActionTransition    = "action_transition"
	CauseRulePathChanged     = "rule_path_changed"
	CauseReasonChanged       = "reason_changed"
	CauseNoChange            = "no_change"
)

// Delta is the per-event diff between two policy snapshots.
type Delta struct {
	RunID           string
	EventID         string
	BaselineAction  policy.Action
	CandidateAction policy.Action
	Severity        Severity
	RootCause       string
	Explanation     string
}

// Store persists replay runs and deltas.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, runID string, completedAt time.Time) error
	SaveDelta(ctx context.Context, delta Delta) error
	Deltas(ctx context.Context, runID string) ([]Delta, error)
}

// HistoricalEvent is the minimal shape replay needs from a trace event.
type HistoricalEvent struct {
	EventID              string
	ToolName             string
	SessionID            string
	ApprovalTokenPresent bool
	ApprovalToken        string
}

// Evaluate runs both evaluators over events and persists one Delta per
// event, then marks the run completed.
func Evaluate(ctx context.Context, store Store, run *Run, baseline, candidate *policy.LocalEvaluator, events []HistoricalEvent) ([]Delta, error) {
	deltas := make([]Delta, 0, len(events))
	for _, event := range events {
		baselineDecision := baseline.EvaluateLocal(event.ToolName, event.SessionID, event.ApprovalToken, event.ApprovalTokenPresent)
		candidateDecision := candidate.EvaluateLocal(event.ToolName, event.SessionID, event.ApprovalToken, event.ApprovalTokenPresent)

		delta := Delta{
			RunID:           run.RunID,
			EventID:         event.EventID,
			BaselineAction:  baselineDecision.Action,
			CandidateAction: candidateDecision.Action,
			Severity:        classifySeverity(baselineDecision, candidateDecision),
			RootCause:       classifyRootCause(baselineDecision, candidateDecision),
		}
		delta.Explanation = explain(delta, baselineDecision, candidateDecision)

		if err := store.SaveDelta(ctx, delta); err != nil {
			return nil, err
		}
		deltas = append(deltas, delta)
	}

	now := time.Now().UTC()
	if err := store.CompleteRun(ctx, run.RunID, now); err != nil {
		return nil, err
	}
	run.Status = "completed"
	run.CompletedAt = &now
	return deltas, nil
}

func classifySeverity(baseline, candidate policy.Decision) Severity {
	if baseline.Action == candidate.Action {
		return SeverityLow
	}
	switch {
	case baseline.Action == policy.ActionAllow && candidate.Action == policy.ActionDeny:
		if candidate.IsWriteAction {
			return SeverityCritical
		}
		return SeverityHigh
	case baseline.Action == policy.ActionDeny && candidate.Action == policy.ActionAllow:
		if candidate.IsWriteAction {
			return SeverityHigh
		}
		return SeverityMedium
	default:
		return SeverityMedium
	}
}

func classifyRootCause(baseline, candidate policy.Decision) string {
	switch {
	case baseline.Action == policy.ActionAllow && candidate.Action == policy.ActionDeny:
		return CauseAccessRestricted
	case baseline.Action == policy.ActionDeny && candidate.Action == policy.ActionAllow:
		return CauseAccessExpanded
	case baseline.Action == policy.ActionRequireApproval || candidate.Action == policy.ActionRequireApproval:
		if baseline.Action != candidate.Action {
			return CauseApprovalPathChanged
		}
	}
	if baseline.Action != candidate.Action {
		return CauseActionTransition
	}
	if baseline.MatchedRule != candidate.MatchedRule {
		return CauseRulePathChanged
	}
	if baseline.Reason != candidate.Reason {
		return CauseReasonChanged
	}
	return CauseNoChange
}

func explain(delta Delta, baseline, candidate policy.Decision) string {
	if delta.RootCause == CauseNoChange {
		return "No material change in policy outcome"
	}
	return string(delta.RootCause) + ": " + string(baseline.Action) + " (" + baseline.MatchedRule + ") -> " + string(candidate.Action) + " (" + candidate.MatchedRule + ")"
}

// Summary aggregates delta counts by severity and root cause.
type Summary struct {
	TotalEvents    int            `json:"total_events"`
	DriftedEvents  int            `json:"drifted_events"`
	BySeverity     map[string]int `json:"by_severity"`
	ByRootCause    map[string]int `json:"by_root_cause"`
}

// Summarize aggregates deltas into a Summary.
func Summarize(deltas []Delta) Summary {
	summary := Summary{BySeverity: map[string]int{}, ByRootCause: map[string]int{}}
	for _, d := range deltas {
		summary.TotalEvents++
		summary.BySeverity[string(d.Severity)]++
		summary.ByRootCause[d.RootCause]++
		if d.BaselineAction != d.CandidateAction {
			summary.DriftedEvents++
		}
	}
	return summary
}

package policy

import "context"

// Evaluator is the policy decision surface. It is implemented both by a
// remote client (HTTP call to an external policy engine, fail-closed) and
// by a local in-process evaluator (used for tool listing and replay/shadow
// analysis, never as an automatic fallback for live calls).
type Evaluator interface {
	// Evaluate produces a Decision for one tool call.
	Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error)
	// AllowedTools lists tools a session may call with no approval token,
	// per the local evaluator's decision surface.
	AllowedTools(ctx context.Context, sessionID string) ([]string, error)
	// Health reports whether the evaluator's backing engine is reachable.
	Health(ctx context.Context) bool
}

// Store persists policy revisions through the lifecycle FSM.
type Store interface {
	CreateRevision(ctx context.Context, rev *Revision) error
	GetRevision(ctx context.Context, id string) (*Revision, error)
	ListRevisions(ctx context.Context) ([]Revision, error)
	UpdateRevision(ctx context.Context, rev *Revision) error
	PublishedRevision(ctx context.Context) (*Revision, error)
}

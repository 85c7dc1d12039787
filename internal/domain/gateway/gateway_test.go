package gateway

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/credential"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/toolcall"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/trace"
)

type fakeTraceStore struct {
	events []trace.Event
}

func (f *fakeTraceStore) Append(_ context.Context, event trace.Event) error {
	f.events = append(f.events, event)
	return nil
}

type allowEverythingEvaluator struct{}

func (allowEverythingEvaluator) Evaluate(_ context.Context, _ policy.EvaluationContext) (policy.Decision, error) {
	return policy.Allow(policy.ScopeRead, policy.RuleReadOnlyTools, false), nil
}

func (allowEverythingEvaluator) AllowedTools(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func (allowEverythingEvaluator) Health(_ context.Context) bool { return true }

func TestCallTool_AllowedRequestRecordsOneTraceEvent(t *testing.T) {
	traces := &fakeTraceStore{}
	o := New()
	o.Policy = allowEverythingEvaluator{}
	o.Traces = traces
	o.Executor = stubExecutor{}

	resp := o.CallTool(context.Background(), toolcall.Request{
		SessionID: "sess-1",
		ToolName:  "read_file",
	})

	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if len(traces.events) != 1 {
		t.Fatalf("events = %d, want 1", len(traces.events))
	}
	if traces.events[0].PolicyDecision != string(policy.ActionAllow) {
		t.Errorf("decision = %q, want ALLOW", traces.events[0].PolicyDecision)
	}
}

func TestWithObservability_NilMeterSkipsCounter(t *testing.T) {
	o := New()
	if err := o.WithObservability(o.Tracer, nil); err != nil {
		t.Fatalf("WithObservability: %v", err)
	}
	if o.callCounter != nil {
		t.Errorf("expected no call counter with nil meter")
	}
}

func TestWithObservability_BuildsCounter(t *testing.T) {
	o := New()
	var meter metric.Meter = noopmetric.NewMeterProvider().Meter("test")
	if err := o.WithObservability(o.Tracer, meter); err != nil {
		t.Fatalf("WithObservability: %v", err)
	}
	if o.callCounter == nil {
		t.Errorf("expected call counter to be built")
	}
}

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, _ string, _ map[string]any, _ credential.Grant) (any, error) {
	return "ok", nil
}

// Package gateway implements the containment pipeline: the single
// ordered chain every tool call request passes through before a result
// (or denial) is returned and traced.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/approval"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/credential"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/killswitch"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/quarantine"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/taint"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/toolcall"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/trace"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/webhook"
)

// Executor invokes a tool's actual implementation. Implementations live
// outside the domain layer (the concrete registry of tool handlers).
type Executor interface {
	Execute(ctx context.Context, toolName string, arguments map[string]any, grant credential.Grant) (any, error)
}

// RateLimitConfigFor returns the rate-limit config to apply for a given
// tool name, so operators can cap individual tools differently.
type RateLimitConfigFor func(toolName string) ratelimit.RateLimitConfig

// Orchestrator chains the ten pipeline stages and is the sole writer of
// TraceEvent.
type Orchestrator struct {
	KillSwitch   *killswitch.Switch
	Quarantine   *quarantine.Coordinator
	RateLimiter  ratelimit.RateLimiter
	RateConfig   RateLimitConfigFor
	Policy       policy.Evaluator
	Exceptions   *policy.ExceptionManager
	Taint        *taint.Tracker
	Approvals    *approval.Engine
	Credentials  *credential.Broker
	Executor     Executor
	Traces       trace.Writer
	Webhooks     *webhook.Notifier
	Logger       *slog.Logger
	Now          func() time.Time

	Tracer      oteltrace.Tracer
	callCounter metric.Int64Counter
}

// New builds an Orchestrator with sane defaults for the clock, logger,
// and a no-op tracer (overwritten by WithObservability when
// AGENTGATE_OTEL_ENABLED is set). Callers must still set the collaborator
// fields before use.
func New() *Orchestrator {
	return &Orchestrator{Now: time.Now, Logger: slog.Default(), Tracer: oteltrace.NewNoopTracerProvider().Tracer("")}
}

// WithObservability wires a real tracer/meter into the orchestrator. meter
// may be nil (e.g. in tests); the call counter is then left unset and
// CallTool skips recording it.
func (o *Orchestrator) WithObservability(tracer oteltrace.Tracer, meter metric.Meter) error {
	o.Tracer = tracer
	if meter == nil {
		return nil
	}
	counter, err := meter.Int64Counter("gateway.tool_calls",
		metric.WithDescription("tool calls processed by the containment pipeline"))
	if err != nil {
		return err
	}
	o.callCounter = counter
	return nil
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// outcome is the pipeline's internal short-circuit carrier: every stage
// either returns nil (continue) or an outcome that terminates the
// request with a trace.
type outcome struct {
	decision  policy.Decision
	err       string
	result    any
	executed  bool
	duration  *int64
	rateLimit *ratelimit.RateLimitResult
}

// CallTool runs req through the full pipeline and appends exactly one
// TraceEvent, regardless of which stage terminated the request.
func (o *Orchestrator) CallTool(ctx context.Context, req toolcall.Request) toolcall.Response {
	ctx, span := o.Tracer.Start(ctx, "gateway.call_tool", oteltrace.WithAttributes(
		attribute.String("tool_name", req.ToolName),
		attribute.String("session_id", req.SessionID),
	))
	defer span.End()

	eventID := uuid.NewString()
	now := o.now()
	argumentsHash := toolcall.HashArguments(req.Arguments)

	event := trace.Event{
		EventID:              eventID,
		Timestamp:            now,
		SessionID:            req.SessionID,
		ToolName:             req.ToolName,
		ArgumentsHash:        argumentsHash,
		ApprovalTokenPresent: req.ApprovalToken != "",
	}
	if uid, ok := req.Context["user_id"].(string); ok {
		event.UserID = uid
	}
	if aid, ok := req.Context["agent_id"].(string); ok {
		event.AgentID = aid
	}

	out := o.run(ctx, req, &event)

	event.PolicyDecision = string(out.decision.Action)
	event.PolicyReason = out.decision.Reason
	event.MatchedRule = out.decision.MatchedRule
	event.IsWriteAction = out.decision.IsWriteAction
	event.Executed = out.executed
	event.DurationMS = out.duration
	event.Error = out.err

	if err := o.Traces.Append(ctx, event); err != nil {
		o.Logger.Error("gateway: failed to append trace event", "event_id", eventID, "error", err)
	}

	span.SetAttributes(attribute.String("decision", event.PolicyDecision))
	if o.callCounter != nil {
		o.callCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool_name", req.ToolName),
			attribute.String("decision", event.PolicyDecision),
		))
	}

	o.observe(ctx, req.SessionID, out)
	o.notify(ctx, req.SessionID, event)

	resp := toolcall.Response{TraceID: eventID, RateLimit: out.rateLimit}
	if out.err != "" {
		resp.Success = false
		resp.Error = out.err
		return resp
	}
	if out.decision.Action != policy.ActionAllow {
		resp.Success = false
		resp.Error = "Policy denied: " + out.decision.Reason
		return resp
	}
	resp.Success = true
	resp.Result = out.result
	return resp
}

func (o *Orchestrator) run(ctx context.Context, req toolcall.Request, event *trace.Event) (out outcome) {
	var rlResult *ratelimit.RateLimitResult
	defer func() { out.rateLimit = rlResult }()

	// 1. Identity + validation.
	if err := toolcall.ValidateToolName(req.ToolName); err != nil {
		return outcome{decision: policy.Deny("Invalid tool name: "+err.Error(), policy.RuleInvalidToolName, false)}
	}
	if err := toolcall.ValidateSessionID(req.SessionID); err != nil {
		return outcome{decision: policy.Deny("Invalid tool name: "+err.Error(), policy.RuleInvalidToolName, false)}
	}

	// 2. Kill switch.
	if o.KillSwitch != nil {
		if blocked, reason := o.KillSwitch.Blocked(ctx, req.ToolName, req.SessionID); blocked {
			return outcome{decision: policy.Deny("Kill switch: "+reason, policy.RuleKillSwitch, false)}
		}
	}

	// 3. Quarantine.
	if o.Quarantine != nil && o.Quarantine.IsQuarantined(req.SessionID) {
		return outcome{decision: policy.Deny("Session quarantined", policy.RuleQuarantine, false)}
	}

	// 4. Rate limit.
	if o.RateLimiter != nil {
		subjectID := req.SessionID
		if uid, ok := req.Context["user_id"].(string); ok && uid != "" {
			subjectID = uid
		}
		config := ratelimit.RateLimitConfig{Rate: 0, Period: 60 * time.Second}
		if o.RateConfig != nil {
			config = o.RateConfig(req.ToolName)
		}
		key := ratelimit.FormatToolKey(subjectID, req.ToolName)
		result, err := o.RateLimiter.Allow(ctx, key, config)
		if err != nil {
			o.Logger.Warn("gateway: rate limiter error, failing open for this stage", "error", err)
		} else {
			rlResult = &result
			if !result.Allowed {
				return outcome{decision: policy.Deny("Rate limit exceeded", policy.RuleRateLimit, false)}
			}
		}
	}

	// Exception short-circuit, ahead of policy evaluation.
	var tenantID string
	if tid, ok := req.Context["tenant_id"].(string); ok {
		tenantID = tid
	}
	if o.Exceptions != nil {
		if exc := o.Exceptions.Match(req.ToolName, req.SessionID, tenantID); exc != nil {
			return outcome{decision: policy.Allow(policy.ScopeWrite, policy.RulePolicyException, false)}
		}
	}

	// 5. Policy evaluation.
	decision, err := o.Policy.Evaluate(ctx, policy.EvaluationContext{
		ToolName:         req.ToolName,
		ToolArguments:    req.Arguments,
		SessionID:        req.SessionID,
		Context:          req.Context,
		ApprovalToken:    req.ApprovalToken,
		HasApprovalToken: req.ApprovalToken != "",
	})
	if err != nil {
		return outcome{decision: policy.Deny("Policy engine unavailable", policy.RuleOPAUnavailable, false)}
	}

	// 6. Taint / DLP guard.
	if o.Taint != nil {
		if _, err := o.Taint.ObserveContext(ctx, req.SessionID, req.Context); err != nil {
			o.Logger.Warn("gateway: failed to persist taint observation", "error", err)
		}
		if reason, err := o.Taint.BlockReason(ctx, req.SessionID, req.ToolName); err == nil && reason != "" {
			decision = policy.Deny("DLP taint guard blocked: "+reason, policy.RuleDLPTaint, decision.IsWriteAction)
		}
	}

	// 7. Approval.
	if decision.Action == policy.ActionRequireApproval {
		if !o.approvalValid(req) {
			return outcome{
				decision: decision,
				err:      fmt.Sprintf("Approval required: %s", decision.Reason),
			}
		}
		decision = policy.Allow(policy.ScopeWrite, policy.RuleWriteWithApproval, true)
	}

	if decision.Action != policy.ActionAllow {
		return outcome{decision: decision}
	}

	// 8. Credential brokering + execution.
	return o.executeAllowed(ctx, req, decision)
}

func (o *Orchestrator) approvalValid(req toolcall.Request) bool {
	if req.ApprovalToken == "" || o.Approvals == nil {
		return false
	}
	return o.Approvals.VerifyToken(req.ApprovalToken, &approval.RequestMatcher{
		SessionID: req.SessionID,
		ToolName:  req.ToolName,
	})
}

func (o *Orchestrator) executeAllowed(ctx context.Context, req toolcall.Request, decision policy.Decision) outcome {
	ttl := decision.CredentialTTLSecond
	if ttl <= 0 {
		ttl = policy.DefaultCredentialTTLSeconds
	}

	var grant credential.Grant
	if o.Credentials != nil {
		g, err := o.Credentials.GetCredentials(ctx, req.ToolName, decision.AllowedScope, ttl)
		if err != nil {
			return outcome{decision: decision, err: fmt.Sprintf("Credential brokering failed: %s", err.Error())}
		}
		grant = g
	}

	start := time.Now()
	result, err := o.Executor.Execute(ctx, req.ToolName, req.Arguments, grant)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return outcome{
			decision: decision,
			err:      fmt.Sprintf("Tool execution failed: %s", err.Error()),
			executed: false,
			duration: &elapsed,
		}
	}
	return outcome{decision: decision, result: result, executed: true, duration: &elapsed}
}

// observe is pipeline step 9: report the outcome to the quarantine
// coordinator for risk scoring. It must not block the response on
// anything but the coordinator's own trace writes.
func (o *Orchestrator) observe(ctx context.Context, sessionID string, out outcome) {
	if o.Quarantine == nil {
		return
	}
	if err := o.Quarantine.ObserveOutcome(ctx, quarantine.Outcome{
		SessionID: sessionID,
		Action:    string(out.decision.Action),
		HadError:  out.err != "",
	}); err != nil {
		o.Logger.Error("gateway: failed to observe outcome for quarantine scoring", "session_id", sessionID, "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, sessionID string, event trace.Event) {
	if o.Webhooks == nil {
		return
	}
	kind := "tool_call.allowed"
	if event.PolicyDecision != string(policy.ActionAllow) {
		kind = "tool_call.denied"
	}
	o.Webhooks.Notify(ctx, webhook.Event{
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: event.Timestamp,
		Data: map[string]any{
			"event_id":     event.EventID,
			"tool_name":    event.ToolName,
			"decision":     event.PolicyDecision,
			"matched_rule": event.MatchedRule,
		},
	})
}

// AllowedTools proxies to the local reference evaluator's listing surface
// for the "GET /tools/list" admin/client surface.
func (o *Orchestrator) AllowedTools(ctx context.Context, sessionID string) ([]string, error) {
	return o.Policy.AllowedTools(ctx, sessionID)
}

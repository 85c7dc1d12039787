package policy

import (
	"context"
	"crypto/subtle"
	"sort"
	"sync"
)

// LocalEvaluator implements the reference decision surface described in
// the policy subsystem design: a declarative ToolSet plus an
// approval-token check. It is never used as an automatic fallback for the
// remote evaluator on the live request path (that would violate the
// fail-closed contract on opa_unavailable) — only for tool listing and
// replay/shadow analysis.
//
// Tools and Rules are read on every request and swapped wholesale by
// Reload when an operator re-publishes the signed policy package, so
// both are guarded by mu rather than left as bare exported fields.
type LocalEvaluator struct {
	ExpectedToken  string
	VerifyWorkflow func(token string, sessionID, toolName string) bool

	mu    sync.RWMutex
	tools ToolSet
	rules *RuleSet
}

var _ Evaluator = (*LocalEvaluator)(nil)

// NewLocalEvaluator builds a LocalEvaluator over the given tool set.
func NewLocalEvaluator(tools ToolSet, expectedToken string) *LocalEvaluator {
	return &LocalEvaluator{tools: tools, ExpectedToken: expectedToken}
}

// Reload swaps the evaluator's tool set and custom rules wholesale. Safe
// to call while Evaluate runs concurrently on other goroutines.
func (e *LocalEvaluator) Reload(tools ToolSet, rules *RuleSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools = tools
	e.rules = rules
}

// SetRules installs rules without touching the tool set, used at startup
// before any request has been served.
func (e *LocalEvaluator) SetRules(rules *RuleSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
}

// ToolsSnapshot returns the evaluator's current tool set.
func (e *LocalEvaluator) ToolsSnapshot() ToolSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tools
}

// Evaluate implements the reference decision surface from the design:
//
//	tool in read_only_tools          -> ALLOW(read_only_tools), scope=read
//	tool in write_tools, no token    -> REQUIRE_APPROVAL(write_requires_approval)
//	tool in write_tools, valid token -> ALLOW(write_with_approval), scope=write
//	tool not in all_known_tools      -> DENY(unknown_tool)
//	otherwise                        -> DENY(default_deny)
func (e *LocalEvaluator) Evaluate(_ context.Context, evalCtx EvaluationContext) (Decision, error) {
	return e.evaluateLocal(evalCtx), nil
}

// EvaluateLocal is the pure form of Evaluate, used directly by replay and
// the invariant prover where no context or error plumbing is needed.
func (e *LocalEvaluator) EvaluateLocal(toolName, sessionID, token string, hasToken bool) Decision {
	return e.evaluateLocal(EvaluationContext{
		ToolName: toolName, SessionID: sessionID, ApprovalToken: token, HasApprovalToken: hasToken,
	})
}

func (e *LocalEvaluator) evaluateLocal(evalCtx EvaluationContext) Decision {
	toolName, sessionID, token, hasToken := evalCtx.ToolName, evalCtx.SessionID, evalCtx.ApprovalToken, evalCtx.HasApprovalToken

	e.mu.RLock()
	tools, rules := e.tools, e.rules
	e.mu.RUnlock()

	if rules != nil {
		if decision, matched := rules.Match(evalCtx); matched {
			return decision
		}
	}
	if tools.IsReadOnly(toolName) {
		return Allow(ScopeRead, RuleReadOnlyTools, false)
	}
	if tools.IsWrite(toolName) {
		if e.hasValidApproval(token, hasToken, sessionID, toolName) {
			return Allow(ScopeWrite, RuleWriteWithApproval, true)
		}
		return RequireApproval("Write action requires human approval", RuleWriteRequiresApprove)
	}
	if !tools.AllKnownTools()[toolName] {
		return Deny("Tool not in allowlist", RuleUnknownTool, false)
	}
	return Deny("Denied by default", RuleDefaultDeny, false)
}

func (e *LocalEvaluator) hasValidApproval(token string, hasToken bool, sessionID, toolName string) bool {
	if !hasToken || token == "" {
		return false
	}
	if e.ExpectedToken != "" && constantTimeEqual(token, e.ExpectedToken) {
		return true
	}
	if e.VerifyWorkflow != nil && e.VerifyWorkflow(token, sessionID, toolName) {
		return true
	}
	return false
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// AllowedTools lists tools whose local evaluation is ALLOW with no
// approval token supplied, in stable alphabetical order.
func (e *LocalEvaluator) AllowedTools(_ context.Context, sessionID string) ([]string, error) {
	var allowed []string
	for tool := range e.ToolsSnapshot().AllKnownTools() {
		decision := e.EvaluateLocal(tool, sessionID, "", false)
		if decision.Action == ActionAllow {
			allowed = append(allowed, tool)
		}
	}
	sort.Strings(allowed)
	return allowed, nil
}

// Health always reports true: the local evaluator has no external
// dependency.
func (e *LocalEvaluator) Health(_ context.Context) bool {
	return true
}

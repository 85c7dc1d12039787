// Package policy contains the decision surface for tool call authorization:
// the local evaluator, the remote evaluator contract, signed policy
// packages, policy exceptions, and the revision lifecycle FSM.
package policy

import "time"

// Action is the outcome of a policy decision.
type Action string

const (
	// ActionAllow permits the tool call to proceed.
	ActionAllow Action = "ALLOW"
	// ActionDeny blocks the tool call.
	ActionDeny Action = "DENY"
	// ActionRequireApproval blocks the tool call until a valid approval
	// token is presented.
	ActionRequireApproval Action = "REQUIRE_APPROVAL"
)

// Matched-rule names. These are carried into the trace verbatim so incident
// review and replay diffing can group decisions by cause.
const (
	RuleReadOnlyTools        = "read_only_tools"
	RuleWriteRequiresApprove = "write_requires_approval"
	RuleWriteWithApproval    = "write_with_approval"
	RuleUnknownTool          = "unknown_tool"
	RuleDefaultDeny          = "default_deny"
	RuleOPAUnavailable       = "opa_unavailable"
	RulePolicyException      = "policy_exception"
	RuleInvalidToolName      = "invalid_tool_name"
	RuleKillSwitch           = "kill_switch"
	RuleQuarantine           = "quarantine"
	RuleRateLimit            = "rate_limit"
	RuleDLPTaint             = "dlp_taint"
)

// Scope values carried on ALLOW decisions.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// DefaultCredentialTTLSeconds is used when a decision does not set one.
const DefaultCredentialTTLSeconds = 300

// Decision is the result produced for every tool call by the policy
// subsystem. allowed_scope is set if and only if Action == ActionAllow.
type Decision struct {
	Action              Action `json:"action"`
	Reason              string `json:"reason"`
	MatchedRule         string `json:"matched_rule,omitempty"`
	AllowedScope        string `json:"allowed_scope,omitempty"`
	CredentialTTLSecond int    `json:"credential_ttl_seconds"`
	IsWriteAction       bool   `json:"is_write_action"`
}

// Allow builds an ALLOW decision with the standard defaults.
func Allow(scope, matchedRule string, isWrite bool) Decision {
	return Decision{
		Action:              ActionAllow,
		Reason:              "Allowed by policy: " + matchedRule,
		MatchedRule:         matchedRule,
		AllowedScope:        scope,
		CredentialTTLSecond: DefaultCredentialTTLSeconds,
		IsWriteAction:       isWrite,
	}
}

// Deny builds a DENY decision.
func Deny(reason, matchedRule string, isWrite bool) Decision {
	return Decision{
		Action:        ActionDeny,
		Reason:        reason,
		MatchedRule:   matchedRule,
		IsWriteAction: isWrite,
	}
}

// RequireApproval builds a REQUIRE_APPROVAL decision.
func RequireApproval(reason, matchedRule string) Decision {
	return Decision{
		Action:        ActionRequireApproval,
		Reason:        reason,
		MatchedRule:   matchedRule,
		IsWriteAction: true,
	}
}

// Revision is one version of a policy bundle moving through the lifecycle
// FSM: draft -> in_review -> published, with a rolled_back sink.
type Revision struct {
	ID        string
	Version   string
	Status    RevisionStatus
	Bundle    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RevisionStatus is the lifecycle state of a policy revision.
type RevisionStatus string

const (
	StatusDraft      RevisionStatus = "draft"
	StatusInReview   RevisionStatus = "in_review"
	StatusPublished  RevisionStatus = "published"
	StatusRolledBack RevisionStatus = "rolled_back"
)

// ToolSet is a declarative policy bundle: lists of tool names plus per-tool
// rate caps. Richer rules are delegated to an external policy engine.
type ToolSet struct {
	ReadOnlyTools []string       `json:"read_only_tools"`
	WriteTools    []string       `json:"write_tools"`
	RateCaps      map[string]int `json:"rate_caps,omitempty"`
}

// AllKnownTools returns the union of read-only and write tools.
func (t ToolSet) AllKnownTools() map[string]bool {
	all := make(map[string]bool, len(t.ReadOnlyTools)+len(t.WriteTools))
	for _, name := range t.ReadOnlyTools {
		all[name] = true
	}
	for _, name := range t.WriteTools {
		all[name] = true
	}
	return all
}

// IsReadOnly reports whether tool is in the read-only set.
func (t ToolSet) IsReadOnly(tool string) bool {
	for _, name := range t.ReadOnlyTools {
		if name == tool {
			return true
		}
	}
	return false
}

// IsWrite reports whether tool is in the write set.
func (t ToolSet) IsWrite(tool string) bool {
	for _, name := range t.WriteTools {
		if name == tool {
			return true
		}
	}
	return false
}

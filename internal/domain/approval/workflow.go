// Package approval implements the multi-step, delegated approval workflow
// engine and its token format.
package approval

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenPrefix is prepended to every workflow id to form an approval token.
const TokenPrefix = "wf:"

// DefaultExpirySeconds is used when neither ExpiresInSeconds nor ExpiresAt
// is given.
const DefaultExpirySeconds = 900

func normalizeIdentity(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Workflow is one multi-step approval request.
type Workflow struct {
	WorkflowID        string
	SessionID         string
	ToolName          string
	RequiredSteps     int
	RequiredApprovers []string
	RequestedBy       string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	Approvals         map[string]bool
	Delegations       map[string]string // delegate -> source slot
	UpdatedAt         *time.Time
}

// Status is the derived lifecycle state of a workflow.
type Status string

const (
	StatusApproved Status = "approved"
	StatusExpired  Status = "expired"
	StatusPending  Status = "pending"
)

// Engine is an in-memory workflow engine guarded by a single mutex; public
// methods never call each other while holding the lock.
type Engine struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
	Now       func() time.Time
}

// New returns an empty engine using time.Now as its clock.
func New() *Engine {
	return &Engine{workflows: make(map[string]*Workflow), Now: time.Now}
}

// CreateInput describes a new workflow request.
type CreateInput struct {
	SessionID         string
	ToolName          string
	RequiredSteps     int
	RequiredApprovers []string
	RequestedBy       string
	ExpiresInSeconds  *int
	ExpiresAt         *time.Time
}

// Create mints a new workflow and its approval token.
func (e *Engine) Create(in CreateInput) (*Workflow, error) {
	normalized := normalizeApprovers(in.RequiredApprovers)
	if len(normalized) > 0 && in.RequiredSteps > len(normalized) {
		return nil, errors.New("required_steps cannot exceed number of required_approvers")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()
	wf := &Workflow{
		WorkflowID:        uuid.NewString(),
		SessionID:         in.SessionID,
		ToolName:          in.ToolName,
		RequiredSteps:     in.RequiredSteps,
		RequiredApprovers: normalized,
		RequestedBy:       strings.TrimSpace(in.RequestedBy),
		CreatedAt:         now,
		ExpiresAt:         computeExpiry(now, in.ExpiresInSeconds, in.ExpiresAt),
		Approvals:         make(map[string]bool),
		Delegations:       make(map[string]string),
	}
	e.workflows[wf.WorkflowID] = wf
	return wf, nil
}

// Token returns the approval token for a workflow id.
func Token(workflowID string) string {
	return TokenPrefix + workflowID
}

func computeExpiry(now time.Time, expiresInSeconds *int, expiresAt *time.Time) time.Time {
	if expiresAt != nil {
		return expiresAt.UTC()
	}
	seconds := DefaultExpirySeconds
	if expiresInSeconds != nil {
		seconds = *expiresInSeconds
		if seconds < 1 {
			seconds = 1
		}
	}
	return now.Add(time.Duration(seconds) * time.Second)
}

func normalizeApprovers(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, r := range raw {
		id := normalizeIdentity(r)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Approve records approverID's approval against workflowID. Idempotent:
// re-approving the same slot is a no-op. Fails if the workflow is expired
// or the approver is not authorized for any slot.
func (e *Engine) Approve(workflowID, approverID string) (*Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	wf, ok := e.workflows[workflowID]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	if isExpired(wf, now) {
		return nil, errors.New("workflow expired")
	}

	approver := normalizeIdentity(approverID)
	slot := approvalSlot(wf, approver)
	if slot == "" {
		return nil, errors.New("approver is not authorized for this workflow")
	}

	wf.Approvals[slot] = true
	n := now
	wf.UpdatedAt = &n
	return wf, nil
}

// Delegate assigns toApprover as the delegate for fromApprover's slot.
func (e *Engine) Delegate(workflowID, fromApprover, toApprover string) (*Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.Now()

	wf, ok := e.workflows[workflowID]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	if isExpired(wf, now) {
		return nil, errors.New("workflow expired")
	}

	from := normalizeIdentity(fromApprover)
	to := normalizeIdentity(toApprover)
	if from == to {
		return nil, errors.New("delegate target must differ from source approver")
	}
	if len(wf.RequiredApprovers) == 0 {
		return nil, errors.New("delegation requires explicit required_approvers")
	}
	if !contains(wf.RequiredApprovers, from) {
		return nil, errors.New("from_approver is not part of workflow required approvers")
	}
	if wf.Approvals[from] {
		return nil, errors.New("cannot delegate an already-approved slot")
	}

	for delegate, source := range wf.Delegations {
		if source == from {
			delete(wf.Delegations, delegate)
		}
	}
	wf.Delegations[to] = from
	n := now
	wf.UpdatedAt = &n
	return wf, nil
}

// Get returns a workflow by id.
func (e *Engine) Get(workflowID string) (*Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[workflowID]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	return wf, nil
}

// RequestMatcher is the subset of a tool call request the token verifier
// needs, to avoid importing the toolcall package here.
type RequestMatcher struct {
	SessionID string
	ToolName  string
}

// VerifyToken checks whether token references a known, non-expired
// workflow matching req's session and tool (when req is non-nil) with
// enough approvals.
func (e *Engine) VerifyToken(token string, req *RequestMatcher) bool {
	if !strings.HasPrefix(token, TokenPrefix) {
		return false
	}
	workflowID := strings.TrimSpace(strings.TrimPrefix(token, TokenPrefix))
	if workflowID == "" {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[workflowID]
	if !ok {
		return false
	}
	now := e.Now()
	if isExpired(wf, now) {
		return false
	}
	if req != nil {
		if wf.SessionID != req.SessionID || wf.ToolName != req.ToolName {
			return false
		}
	}
	return isApproved(wf)
}

func isExpired(wf *Workflow, now time.Time) bool {
	return !now.Before(wf.ExpiresAt)
}

func isApproved(wf *Workflow) bool {
	return len(wf.Approvals) >= wf.RequiredSteps
}

func approvalSlot(wf *Workflow, approver string) string {
	if len(wf.RequiredApprovers) == 0 {
		return approver
	}
	if contains(wf.RequiredApprovers, approver) {
		return approver
	}
	if slot, ok := wf.Delegations[approver]; ok && contains(wf.RequiredApprovers, slot) {
		return slot
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// DerivedStatus computes status the way the serialized view does.
func (e *Engine) DerivedStatus(wf *Workflow) Status {
	now := e.Now()
	switch {
	case isApproved(wf):
		return StatusApproved
	case isExpired(wf, now):
		return StatusExpired
	default:
		return StatusPending
	}
}

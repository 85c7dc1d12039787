// Package admin provides the operator-facing HTTP surface for the
// containment gateway: policy revision lifecycle, exceptions, approval
// workflows, quarantine release, and policy replay/rollout.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/approval"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/quarantine"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/replay"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/rollout"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/trace"
)

// maxAdminBodySize bounds request bodies accepted on the admin surface.
const maxAdminBodySize = 1 << 20

// PolicyReloader re-reads the signed policy package from disk and swaps
// the live evaluator's tool set and custom rules.
type PolicyReloader interface {
	Reload(ctx context.Context) error
}

// SessionPurger deletes one session's trace and taint history.
type SessionPurger interface {
	PurgeSession(ctx context.Context, sessionID string) error
}

// Handler serves the admin API: policy revisions, exceptions, approvals,
// quarantine release, and replay/rollout runs. Every collaborator is a
// narrow port so the handler can be wired against the same sqlite-backed
// store the gateway orchestrator uses.
type Handler struct {
	Revisions   *policy.RevisionManager
	PolicyStore policy.Store
	Exceptions  *policy.ExceptionManager
	Approvals   *approval.Engine
	Quarantine  *quarantine.Coordinator
	Traces      trace.Reader
	ReplayStore replay.Store
	Rollout     *rollout.Controller
	Reloader    PolicyReloader
	Purger      SessionPurger
	APIKey      string
	Logger      *slog.Logger
	Now         func() time.Time
}

// New wires a Handler from its collaborators. store doubles as the policy
// Store and the replay/rollout Store since the sqlite adapter backs all
// three ports.
func New(revisions *policy.RevisionManager, store policy.Store, exceptions *policy.ExceptionManager,
	approvals *approval.Engine, quarantineCoord *quarantine.Coordinator, traces trace.Reader,
	replayStore replay.Store, rolloutCtl *rollout.Controller, reloader PolicyReloader, purger SessionPurger,
	apiKey string, logger *slog.Logger) *Handler {
	return &Handler{
		Revisions:   revisions,
		PolicyStore: store,
		Exceptions:  exceptions,
		Approvals:   approvals,
		Quarantine:  quarantineCoord,
		Traces:      traces,
		ReplayStore: replayStore,
		Rollout:     rolloutCtl,
		Reloader:    reloader,
		Purger:      purger,
		APIKey:      apiKey,
		Logger:      logger,
		Now:         time.Now,
	}
}

// Handler returns the admin mux wrapped in the security middleware chain:
// CSP and security headers, CSRF protection, per-IP rate limiting, then
// the localhost-or-API-key auth gate.
func (h *Handler) Handler() http.Handler {
	var chain http.Handler = h.mux()
	chain = h.adminAuthMiddleware(chain)
	chain = apiRateLimitMiddleware(60, time.Minute, chain)
	chain = csrfMiddleware(chain)
	chain = cspMiddleware(chain)
	return chain
}

// mux returns the routed handler with no security middleware applied.
func (h *Handler) mux() http.Handler {
	mux := http.NewServeMux()
	h.routes(mux)
	return mux
}

func (h *Handler) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/api/policy/revisions", h.listRevisions)
	mux.HandleFunc("POST /admin/api/policy/revisions", h.createRevision)
	mux.HandleFunc("POST /admin/api/policy/revisions/{id}/submit", h.submitRevision)
	mux.HandleFunc("POST /admin/api/policy/revisions/{id}/publish", h.publishRevision)
	mux.HandleFunc("POST /admin/api/policy/rollback", h.rollbackRevision)

	mux.HandleFunc("GET /admin/api/exceptions", h.listExceptions)
	mux.HandleFunc("POST /admin/api/exceptions", h.createException)
	mux.HandleFunc("POST /admin/api/exceptions/{id}/revoke", h.revokeException)

	mux.HandleFunc("POST /admin/api/approvals", h.createApproval)
	mux.HandleFunc("GET /admin/api/approvals/{id}", h.getApproval)
	mux.HandleFunc("POST /admin/api/approvals/{id}/approve", h.approveWorkflow)
	mux.HandleFunc("POST /admin/api/approvals/{id}/delegate", h.delegateWorkflow)

	mux.HandleFunc("GET /admin/api/quarantine/{sessionID}", h.getQuarantine)
	mux.HandleFunc("POST /admin/api/quarantine/{sessionID}/release", h.releaseQuarantine)

	mux.HandleFunc("POST /admin/api/replay/runs", h.startReplay)
	mux.HandleFunc("GET /admin/api/replay/runs/{id}", h.getReplaySummary)

	mux.HandleFunc("POST /admin/api/rollout", h.startRollout)

	mux.HandleFunc("POST /admin/policies/reload", h.reloadPolicies)
	mux.HandleFunc("POST /admin/api/sessions/{sessionID}/purge", h.purgeSession)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
	return json.NewDecoder(r.Body).Decode(dst)
}

// --- policy revisions ---

func (h *Handler) listRevisions(w http.ResponseWriter, r *http.Request) {
	revisions, err := h.PolicyStore.ListRevisions(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, revisions)
}

type createRevisionRequest struct {
	Version string         `json:"version"`
	Bundle  map[string]any `json:"bundle"`
}

func (h *Handler) createRevision(w http.ResponseWriter, r *http.Request) {
	var req createRevisionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	now := h.Now()
	rev := &policy.Revision{
		ID:        "rev-" + uuid.NewString(),
		Version:   req.Version,
		Status:    policy.StatusDraft,
		Bundle:    req.Bundle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.PolicyStore.CreateRevision(r.Context(), rev); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

func (h *Handler) submitRevision(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Revisions.Submit(r.Context(), id); err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "in_review"})
}

func (h *Handler) publishRevision(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Revisions.Publish(r.Context(), id); err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "published"})
}

type rollbackRequest struct {
	RestoreID string `json:"restore_id"`
}

func (h *Handler) rollbackRevision(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeBody(w, r, &req); err != nil || req.RestoreID == "" {
		writeJSONError(w, http.StatusBadRequest, "restore_id is required")
		return
	}
	if err := h.Revisions.Rollback(r.Context(), req.RestoreID); err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rolled_back"})
}

// --- exceptions ---

func (h *Handler) listExceptions(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	writeJSON(w, http.StatusOK, h.Exceptions.List(includeInactive))
}

func (h *Handler) createException(w http.ResponseWriter, r *http.Request) {
	var req policy.CreateExceptionInput
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	exc, err := h.Exceptions.Create(req)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, exc)
}

type revokeExceptionRequest struct {
	RevokedBy string `json:"revoked_by"`
}

func (h *Handler) revokeException(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req revokeExceptionRequest
	_ = decodeBody(w, r, &req)
	if err := h.Exceptions.Revoke(id, req.RevokedBy); err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// --- approval workflows ---

func (h *Handler) createApproval(w http.ResponseWriter, r *http.Request) {
	var req approval.CreateInput
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wf, err := h.Approvals.Create(req)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"workflow": wf,
		"token":    approval.Token(wf.WorkflowID),
	})
}

func (h *Handler) getApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, err := h.Approvals.Get(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow": wf,
		"status":   h.Approvals.DerivedStatus(wf),
	})
}

type approveRequest struct {
	ApproverID string `json:"approver_id"`
}

func (h *Handler) approveWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req approveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wf, err := h.Approvals.Approve(id, req.ApproverID)
	if err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

type delegateRequest struct {
	FromApprover string `json:"from_approver"`
	ToApprover   string `json:"to_approver"`
}

func (h *Handler) delegateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req delegateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wf, err := h.Approvals.Delegate(id, req.FromApprover, req.ToApprover)
	if err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// --- quarantine ---

func (h *Handler) getQuarantine(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	writeJSON(w, http.StatusOK, map[string]bool{"quarantined": h.Quarantine.IsQuarantined(sessionID)})
}

type releaseQuarantineRequest struct {
	ReleasedBy string `json:"released_by"`
}

func (h *Handler) releaseQuarantine(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	var req releaseQuarantineRequest
	_ = decodeBody(w, r, &req)
	if err := h.Quarantine.Release(r.Context(), sessionID, req.ReleasedBy); err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// --- replay ---

type startReplayRequest struct {
	SessionID        string         `json:"session_id"`
	BaselineVersion  string         `json:"baseline_version"`
	CandidateVersion string         `json:"candidate_version"`
	BaselineTools    policy.ToolSet `json:"baseline_tools"`
	CandidateTools   policy.ToolSet `json:"candidate_tools"`
}

func (h *Handler) startReplay(w http.ResponseWriter, r *http.Request) {
	var req startReplayRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	events, err := h.Traces.Query(r.Context(), req.SessionID, nil)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	historical := make([]replay.HistoricalEvent, len(events))
	for i, e := range events {
		historical[i] = replay.HistoricalEvent{
			EventID:              e.EventID,
			ToolName:             e.ToolName,
			SessionID:            e.SessionID,
			ApprovalTokenPresent: e.ApprovalTokenPresent,
		}
	}

	baseline := policy.NewLocalEvaluator(req.BaselineTools, "")
	candidate := policy.NewLocalEvaluator(req.CandidateTools, "")

	run := &replay.Run{
		RunID:            "replay-" + uuid.NewString(),
		BaselineVersion:  req.BaselineVersion,
		CandidateVersion: req.CandidateVersion,
		SessionID:        req.SessionID,
		Status:           "running",
		CreatedAt:        h.Now(),
	}
	if err := h.ReplayStore.CreateRun(r.Context(), run); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	deltas, err := replay.Evaluate(r.Context(), h.ReplayStore, run, baseline, candidate, historical)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"run":     run,
		"summary": replay.Summarize(deltas),
	})
}

func (h *Handler) getReplaySummary(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	deltas, err := h.ReplayStore.Deltas(r.Context(), runID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deltas":  deltas,
		"summary": replay.Summarize(deltas),
	})
}

// --- rollout ---

type startRolloutRequest struct {
	TenantID         string   `json:"tenant_id"`
	BaselineVersion  string   `json:"baseline_version"`
	CandidateVersion string   `json:"candidate_version"`
	ReplayRunID      string   `json:"replay_run_id"`
	ErrorRate        *float64 `json:"error_rate,omitempty"`
}

func (h *Handler) startRollout(w http.ResponseWriter, r *http.Request) {
	var req startRolloutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deltas, err := h.ReplayStore.Deltas(r.Context(), req.ReplayRunID)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unknown replay_run_id")
		return
	}

	rec, decision, err := h.Rollout.Start(r.Context(), rollout.StartInput{
		TenantID:         req.TenantID,
		BaselineVersion:  req.BaselineVersion,
		CandidateVersion: req.CandidateVersion,
		Summary:          replay.Summarize(deltas),
		ErrorRate:        req.ErrorRate,
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rollout": rec, "decision": decision})
}

// --- policy reload & session purge ---

func (h *Handler) reloadPolicies(w http.ResponseWriter, r *http.Request) {
	if h.Reloader == nil {
		writeJSONError(w, http.StatusNotImplemented, "policy reload not configured")
		return
	}
	if err := h.Reloader.Reload(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (h *Handler) purgeSession(w http.ResponseWriter, r *http.Request) {
	if h.Purger == nil {
		writeJSONError(w, http.StatusNotImplemented, "session purge not configured")
		return
	}
	sessionID := r.PathValue("sessionID")
	if err := h.Purger.PurgeSession(r.Context(), sessionID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

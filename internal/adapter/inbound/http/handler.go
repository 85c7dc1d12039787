// Package http provides the HTTP transport adapter for the gateway.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/evidence"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/killswitch"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/quarantine"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/toolcall"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/trace"
	"github.com/Sentinel-Gate/Sentinelgate/internal/port/inbound"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// GatewayHandler wires the gateway's external HTTP surface: tool calls,
// session listing, kill/pause/resume, and evidence export.
type GatewayHandler struct {
	Gateway    inbound.GatewayService
	Traces     trace.Reader
	KillSwitch *killswitch.Switch
	Quarantine *quarantine.Coordinator
	Evidence   *evidence.Exporter
}

// Routes registers the gateway's HTTP routes on mux.
func (h *GatewayHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /tools/call", h.handleToolCall)
	mux.HandleFunc("GET /tools/list", h.handleToolsList)
	mux.HandleFunc("GET /sessions", h.handleSessionsList)
	mux.HandleFunc("POST /sessions/{id}/kill", h.handleSessionKill)
	mux.HandleFunc("POST /sessions/{id}/release", h.handleSessionRelease)
	mux.HandleFunc("POST /tools/{name}/kill", h.handleToolKill)
	mux.HandleFunc("POST /system/pause", h.handleSystemPause)
	mux.HandleFunc("POST /system/resume", h.handleSystemResume)
	mux.HandleFunc("GET /sessions/{id}/evidence", h.handleEvidence)
}

func (h *GatewayHandler) handleToolCall(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body exceeds 1MB limit")
			return
		}
		writeJSONError(w, http.StatusUnprocessableEntity, "failed to read request body")
		return
	}

	var req toolcall.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "request body is not valid JSON")
		return
	}
	if req.SessionID == "" || req.ToolName == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "session_id and tool_name are required")
		return
	}

	resp := h.Gateway.CallTool(r.Context(), req)
	writeRateLimitHeaders(w, resp.RateLimit)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *GatewayHandler) handleToolsList(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	tools, err := h.Gateway.AllowedTools(r.Context(), sessionID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list allowed tools")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (h *GatewayHandler) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	if h.Traces == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": []string{}})
		return
	}
	sessions, err := h.Traces.ListSessions(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type killRequest struct {
	Reason string `json:"reason"`
}

type releaseRequest struct {
	ReleasedBy string `json:"released_by"`
}

func (h *GatewayHandler) handleSessionKill(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	reason := decodeKillReason(r)
	if h.KillSwitch == nil || !h.KillSwitch.KillSession(r.Context(), sessionID, reason) {
		writeJSONError(w, http.StatusServiceUnavailable, "kill switch backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"killed": true, "session_id": sessionID})
}

func (h *GatewayHandler) handleSessionRelease(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	defer func() { _ = r.Body.Close() }()
	var req releaseRequest
	_ = json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&req)
	if req.ReleasedBy == "" {
		req.ReleasedBy = "api"
	}

	if h.Quarantine == nil {
		writeJSONError(w, http.StatusInternalServerError, "quarantine coordinator not configured")
		return
	}
	if err := h.Quarantine.Release(r.Context(), sessionID, req.ReleasedBy); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to release session from quarantine")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": true, "session_id": sessionID})
}

func (h *GatewayHandler) handleToolKill(w http.ResponseWriter, r *http.Request) {
	toolName := r.PathValue("name")
	reason := decodeKillReason(r)
	if h.KillSwitch == nil || !h.KillSwitch.KillTool(r.Context(), toolName, reason) {
		writeJSONError(w, http.StatusServiceUnavailable, "kill switch backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"killed": true, "tool_name": toolName})
}

func (h *GatewayHandler) handleSystemPause(w http.ResponseWriter, r *http.Request) {
	reason := decodeKillReason(r)
	if h.KillSwitch == nil || !h.KillSwitch.GlobalPause(r.Context(), reason) {
		writeJSONError(w, http.StatusServiceUnavailable, "kill switch backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

func (h *GatewayHandler) handleSystemResume(w http.ResponseWriter, r *http.Request) {
	if h.KillSwitch == nil || !h.KillSwitch.Resume(r.Context()) {
		writeJSONError(w, http.StatusServiceUnavailable, "kill switch backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resumed": true})
}

func (h *GatewayHandler) handleEvidence(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	if h.Evidence == nil {
		writeJSONError(w, http.StatusInternalServerError, "evidence exporter not configured")
		return
	}

	payload, err := h.Evidence.ExportAndArchive(r.Context(), sessionID, format)
	if err != nil {
		if errors.Is(err, evidence.ErrUnsupportedFormat) {
			writeJSONError(w, http.StatusNotImplemented, "pdf export is not supported")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to export evidence pack")
		return
	}

	switch strings.ToLower(format) {
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func decodeKillReason(r *http.Request) string {
	defer func() { _ = r.Body.Close() }()
	var req killRequest
	_ = json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&req)
	return req.Reason
}

// writeRateLimitHeaders renders the pipeline's rate-limit stage result as
// X-RateLimit-* response headers.
func writeRateLimitHeaders(w http.ResponseWriter, result *ratelimit.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(result.ResetAfter.Seconds())))
	if !result.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// healthHandler returns an HTTP handler that responds with 200 OK for health checks.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/toolcall"
)

// fakeGateway is a minimal inbound.GatewayService stub for handler tests.
type fakeGateway struct {
	resp        toolcall.Response
	tools       []string
	toolsErr    error
	lastRequest toolcall.Request
}

func (f *fakeGateway) CallTool(_ context.Context, req toolcall.Request) toolcall.Response {
	f.lastRequest = req
	return f.resp
}

func (f *fakeGateway) AllowedTools(_ context.Context, _ string) ([]string, error) {
	return f.tools, f.toolsErr
}

func newTestHandler(gw *fakeGateway) *GatewayHandler {
	return &GatewayHandler{Gateway: gw}
}

func TestHandleToolCall_Success(t *testing.T) {
	gw := &fakeGateway{resp: toolcall.Response{Success: true, Result: "ok", TraceID: "trace-1"}}
	h := newTestHandler(gw)

	body := `{"session_id":"sess-1","tool_name":"read_file","arguments":{}}`
	req := httptest.NewRequest(http.MethodPost, "/tools/call", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleToolCall(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp toolcall.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Success || resp.TraceID != "trace-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if gw.lastRequest.ToolName != "read_file" {
		t.Errorf("tool_name not forwarded, got %q", gw.lastRequest.ToolName)
	}
}

func TestHandleToolCall_MissingFields(t *testing.T) {
	h := newTestHandler(&fakeGateway{})

	req := httptest.NewRequest(http.MethodPost, "/tools/call", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.handleToolCall(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestHandleToolCall_InvalidJSON(t *testing.T) {
	h := newTestHandler(&fakeGateway{})

	req := httptest.NewRequest(http.MethodPost, "/tools/call", strings.NewReader("{not json}"))
	rec := httptest.NewRecorder()

	h.handleToolCall(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestHandleToolCall_OversizedPayload(t *testing.T) {
	h := newTestHandler(&fakeGateway{})

	oversized := bytes.Repeat([]byte("a"), maxRequestBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/tools/call", bytes.NewReader(oversized))
	rec := httptest.NewRecorder()

	h.handleToolCall(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleToolCall_RateLimitHeaders(t *testing.T) {
	gw := &fakeGateway{resp: toolcall.Response{
		Success: true,
		TraceID: "trace-2",
		RateLimit: &ratelimit.RateLimitResult{
			Allowed:   true,
			Limit:     10,
			Remaining: 5,
		},
	}}
	h := newTestHandler(gw)

	body := `{"session_id":"sess-1","tool_name":"read_file"}`
	req := httptest.NewRequest(http.MethodPost, "/tools/call", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleToolCall(rec, req)

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want %q", got, "10")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "5" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "5")
	}
}

func TestHandleToolsList(t *testing.T) {
	gw := &fakeGateway{tools: []string{"read_file", "list_dir"}}
	h := newTestHandler(gw)

	req := httptest.NewRequest(http.MethodGet, "/tools/list?session_id=sess-1", nil)
	rec := httptest.NewRecorder()

	h.handleToolsList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var payload struct {
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(payload.Tools) != 2 {
		t.Errorf("tools = %v, want 2 entries", payload.Tools)
	}
}

func TestHandleSessionKill_NoSwitchConfigured(t *testing.T) {
	h := newTestHandler(&fakeGateway{})

	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/kill", strings.NewReader(`{"reason":"test"}`))
	req.SetPathValue("id", "sess-1")
	rec := httptest.NewRecorder()

	h.handleSessionKill(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleEvidence_NotConfigured(t *testing.T) {
	h := newTestHandler(&fakeGateway{})

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-1/evidence", nil)
	req.SetPathValue("id", "sess-1")
	rec := httptest.NewRecorder()

	h.handleEvidence(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

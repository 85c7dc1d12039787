package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/approval"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/credential"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/killswitch"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/quarantine"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/rollout"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "admin-test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	killSwitch := killswitch.New(nil)
	broker := credential.New(credential.StubProvider{})
	coordinator := quarantine.New(store, broker, killSwitch)

	return New(
		policy.NewRevisionManager(store),
		store,
		policy.NewExceptionManager(),
		approval.New(),
		coordinator,
		store,
		store,
		rollout.NewController(store, nil),
		nil,
		store,
		"",
		slog.Default(),
	)
}

type fakeReloader struct {
	called bool
	err    error
}

func (f *fakeReloader) Reload(_ context.Context) error {
	f.called = true
	return f.err
}

func decodeInto(t *testing.T, body *bytes.Buffer, dst any) {
	t.Helper()
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestPolicyRevisionLifecycle(t *testing.T) {
	h := newTestHandler(t)

	createBody, _ := json.Marshal(createRevisionRequest{Version: "v1", Bundle: map[string]any{"read_only_tools": []string{"search"}}})

	req := httptest.NewRequest("POST", "/admin/api/policy/revisions", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	h.mux().ServeHTTP(rec, req)
	if rec.Code != 201 {
		t.Fatalf("create revision status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var rev policy.Revision
	decodeInto(t, rec.Body, &rev)
	if rev.Status != policy.StatusDraft {
		t.Fatalf("status = %s, want draft", rev.Status)
	}

	submitReq := httptest.NewRequest("POST", "/admin/api/policy/revisions/"+rev.ID+"/submit", nil)
	submitRec := httptest.NewRecorder()
	h.mux().ServeHTTP(submitRec, submitReq)
	if submitRec.Code != 200 {
		t.Fatalf("submit status = %d, body = %s", submitRec.Code, submitRec.Body.String())
	}

	publishReq := httptest.NewRequest("POST", "/admin/api/policy/revisions/"+rev.ID+"/publish", nil)
	publishRec := httptest.NewRecorder()
	h.mux().ServeHTTP(publishRec, publishReq)
	if publishRec.Code != 200 {
		t.Fatalf("publish status = %d, body = %s", publishRec.Code, publishRec.Body.String())
	}

	listReq := httptest.NewRequest("GET", "/admin/api/policy/revisions", nil)
	listRec := httptest.NewRecorder()
	h.mux().ServeHTTP(listRec, listReq)
	var revisions []policy.Revision
	decodeInto(t, listRec.Body, &revisions)
	if len(revisions) != 1 || revisions[0].Status != policy.StatusPublished {
		t.Fatalf("revisions = %+v, want one published revision", revisions)
	}
}

func TestExceptionLifecycle(t *testing.T) {
	h := newTestHandler(t)

	createBody, _ := json.Marshal(policy.CreateExceptionInput{
		ToolName: "delete_record", Reason: "incident response",
		CreatedBy: "oncall", ExpiresInSecond: 3600, SessionID: "sess-1",
	})
	req := httptest.NewRequest("POST", "/admin/api/exceptions", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	h.mux().ServeHTTP(rec, req)
	if rec.Code != 201 {
		t.Fatalf("create exception status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var exc policy.Exception
	decodeInto(t, rec.Body, &exc)

	revokeReq := httptest.NewRequest("POST", "/admin/api/exceptions/"+exc.ExceptionID+"/revoke",
		bytes.NewReader([]byte(`{"revoked_by":"oncall"}`)))
	revokeRec := httptest.NewRecorder()
	h.mux().ServeHTTP(revokeRec, revokeReq)
	if revokeRec.Code != 200 {
		t.Fatalf("revoke status = %d, body = %s", revokeRec.Code, revokeRec.Body.String())
	}
}

func TestApprovalWorkflow(t *testing.T) {
	h := newTestHandler(t)

	createBody, _ := json.Marshal(approval.CreateInput{
		SessionID: "sess-1", ToolName: "wire_transfer",
		RequiredSteps: 1, RequiredApprovers: []string{"alice@example.com"},
		RequestedBy: "agent",
	})
	req := httptest.NewRequest("POST", "/admin/api/approvals", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	h.mux().ServeHTTP(rec, req)
	if rec.Code != 201 {
		t.Fatalf("create approval status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Workflow approval.Workflow `json:"workflow"`
		Token    string            `json:"token"`
	}
	decodeInto(t, rec.Body, &created)

	approveReq := httptest.NewRequest("POST", "/admin/api/approvals/"+created.Workflow.WorkflowID+"/approve",
		bytes.NewReader([]byte(`{"approver_id":"alice@example.com"}`)))
	approveRec := httptest.NewRecorder()
	h.mux().ServeHTTP(approveRec, approveReq)
	if approveRec.Code != 200 {
		t.Fatalf("approve status = %d, body = %s", approveRec.Code, approveRec.Body.String())
	}

	getReq := httptest.NewRequest("GET", "/admin/api/approvals/"+created.Workflow.WorkflowID, nil)
	getRec := httptest.NewRecorder()
	h.mux().ServeHTTP(getRec, getReq)
	var fetched struct {
		Status approval.Status `json:"status"`
	}
	decodeInto(t, getRec.Body, &fetched)
	if fetched.Status != approval.StatusApproved {
		t.Fatalf("status = %s, want approved", fetched.Status)
	}
}

func TestQuarantineLookup(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("GET", "/admin/api/quarantine/sess-unknown", nil)
	rec := httptest.NewRecorder()
	h.mux().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result map[string]bool
	decodeInto(t, rec.Body, &result)
	if result["quarantined"] {
		t.Fatalf("expected unknown session to not be quarantined")
	}
}

func TestReloadPolicies(t *testing.T) {
	h := newTestHandler(t)
	reloader := &fakeReloader{}
	h.Reloader = reloader

	req := httptest.NewRequest("POST", "/admin/policies/reload", nil)
	rec := httptest.NewRecorder()
	h.mux().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !reloader.called {
		t.Fatalf("expected Reload to be called")
	}
}

func TestReloadPolicies_NotConfigured(t *testing.T) {
	h := newTestHandler(t)
	h.Reloader = nil

	req := httptest.NewRequest("POST", "/admin/policies/reload", nil)
	rec := httptest.NewRecorder()
	h.mux().ServeHTTP(rec, req)
	if rec.Code != 501 {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestPurgeSession(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("POST", "/admin/api/sessions/sess-1/purge", nil)
	rec := httptest.NewRecorder()
	h.mux().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sentinel-Gate/Sentinelgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/killswitch"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
)

type stubEvaluator struct {
	healthy bool
}

func (s stubEvaluator) Evaluate(context.Context, policy.EvaluationContext) (policy.Decision, error) {
	return policy.Decision{}, nil
}

func (s stubEvaluator) AllowedTools(context.Context, string) ([]string, error) {
	return nil, nil
}

func (s stubEvaluator) Health(context.Context) bool {
	return s.healthy
}

func TestHealthChecker_OK(t *testing.T) {
	killSwitch := killswitch.New(memory.NewKVStore())
	hc := NewHealthChecker(stubEvaluator{healthy: true}, killSwitch, "test-version")

	health := hc.Check(context.Background())

	if health.Status != "ok" {
		t.Errorf("Status = %q, want ok", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if !health.OPA || !health.Redis {
		t.Errorf("OPA/Redis = %v/%v, want true/true", health.OPA, health.Redis)
	}
}

func TestHealthChecker_NilCollaborators(t *testing.T) {
	hc := NewHealthChecker(nil, nil, "")
	health := hc.Check(context.Background())

	if health.Status != "ok" {
		t.Errorf("Status = %q, want ok with no collaborators configured", health.Status)
	}
}

func TestHealthChecker_DegradedOnEvaluatorFailure(t *testing.T) {
	killSwitch := killswitch.New(memory.NewKVStore())
	hc := NewHealthChecker(stubEvaluator{healthy: false}, killSwitch, "")

	health := hc.Check(context.Background())

	if health.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", health.Status)
	}
	if health.OPA {
		t.Errorf("OPA = true, want false")
	}
}

func TestHealthChecker_Handler_HTTP(t *testing.T) {
	hc := NewHealthChecker(stubEvaluator{healthy: true}, nil, "1.0.0")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Response status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.0.0" {
		t.Errorf("Response version = %q, want 1.0.0", resp.Version)
	}
}

func TestHealthChecker_Handler_Degraded503(t *testing.T) {
	hc := NewHealthChecker(stubEvaluator{healthy: false}, nil, "")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("Response status = %q, want degraded", resp.Status)
	}
}

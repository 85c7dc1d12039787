package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/killswitch"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"` // "ok" or "degraded"
	Version string `json:"version,omitempty"`
	OPA     bool   `json:"opa"`
	Redis   bool   `json:"redis"`
}

// HealthChecker probes the gateway's two external dependencies: the
// policy evaluator (local evaluators have none and always report
// healthy) and the kill switch's backing KV.
type HealthChecker struct {
	evaluator  policy.Evaluator
	killSwitch *killswitch.Switch
	version    string
}

// NewHealthChecker builds a HealthChecker over the live evaluator and
// kill switch. Both are required: a local-only evaluator's Health always
// returns true, and an in-memory kill switch's Health always succeeds,
// so passing the real collaborators degrades correctly in every
// deployment shape.
func NewHealthChecker(evaluator policy.Evaluator, killSwitch *killswitch.Switch, version string) *HealthChecker {
	return &HealthChecker{evaluator: evaluator, killSwitch: killSwitch, version: version}
}

// Check probes both dependencies and reports degraded if either fails.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	opaOK := h.evaluator == nil || h.evaluator.Health(ctx)
	redisOK := h.killSwitch == nil || h.killSwitch.Health(ctx)

	status := "ok"
	if !opaOK || !redisOK {
		status = "degraded"
	}

	return HealthResponse{
		Status:  status,
		Version: h.version,
		OPA:     opaOK,
		Redis:   redisOK,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}

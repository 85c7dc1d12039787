package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// remoteEvalTimeout is the hard timeout for a remote policy call, per the
// concurrency model's outbound-timeout table.
const remoteEvalTimeout = 5 * time.Second

// remoteInput is the request body POSTed to the external policy engine.
type remoteInput struct {
	Input remoteInputBody `json:"input"`
}

type remoteInputBody struct {
	ToolName         string         `json:"tool_name"`
	Arguments        map[string]any `json:"arguments"`
	SessionID        string         `json:"session_id"`
	Context          map[string]any `json:"context"`
	HasApprovalToken bool           `json:"has_approval_token"`
	ApprovalToken    string         `json:"approval_token,omitempty"`
}

type remoteResult struct {
	Result Decision `json:"result"`
}

// RemoteEvaluator calls an external OPA-compatible policy engine over
// HTTP. Any transport, non-2xx, decoding, or shape error yields
// DENY/opa_unavailable — the fail-closed contract. A circuit breaker
// guards the backing HTTP client so a degraded policy engine fails fast
// instead of piling up timeouts under load.
type RemoteEvaluator struct {
	BaseURL    string
	HTTPClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	local      *LocalEvaluator // used only for AllowedTools, never for live Evaluate fallback
}

var _ Evaluator = (*RemoteEvaluator)(nil)

// NewRemoteEvaluator builds a RemoteEvaluator targeting baseURL, e.g.
// "http://opa:8181". local is consulted only for GET /tools/list and
// replay/shadow analysis.
func NewRemoteEvaluator(baseURL string, local *LocalEvaluator) *RemoteEvaluator {
	st := gobreaker.Settings{
		Name:        "policy-engine",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &RemoteEvaluator{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: remoteEvalTimeout},
		breaker:    gobreaker.NewCircuitBreaker[*http.Response](st),
		local:      local,
	}
}

// Evaluate POSTs the evaluation context to {opa_url}/v1/data/agentgate/decision.
// Any failure along the way returns DENY/opa_unavailable with a nil error:
// the caller never needs to special-case a transport error, only the
// returned Decision.
func (r *RemoteEvaluator) Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error) {
	body, err := json.Marshal(remoteInput{Input: remoteInputBody{
		ToolName:         evalCtx.ToolName,
		Arguments:        evalCtx.ToolArguments,
		SessionID:        evalCtx.SessionID,
		Context:          evalCtx.Context,
		HasApprovalToken: evalCtx.HasApprovalToken,
		ApprovalToken:    evalCtx.ApprovalToken,
	}})
	if err != nil {
		return unavailable(), nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, remoteEvalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.BaseURL+"/v1/data/agentgate/decision", bytes.NewReader(body))
	if err != nil {
		return unavailable(), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.breaker.Execute(func() (*http.Response, error) {
		resp, err := r.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, errNonSuccess
		}
		return resp, nil
	})
	if err != nil {
		return unavailable(), nil
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return unavailable(), nil
	}

	var decoded remoteResult
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return unavailable(), nil
	}
	if decoded.Result.Action == "" {
		return unavailable(), nil
	}
	return decoded.Result, nil
}

var errNonSuccess = policyTransportError("policy engine returned non-2xx status")

type policyTransportError string

func (e policyTransportError) Error() string { return string(e) }

func unavailable() Decision {
	return Deny("Policy engine unavailable", RuleOPAUnavailable, false)
}

// AllowedTools delegates to the local evaluator's decision surface; the
// remote engine has no standard "list tools" endpoint.
func (r *RemoteEvaluator) AllowedTools(ctx context.Context, sessionID string) ([]string, error) {
	if r.local == nil {
		return nil, nil
	}
	return r.local.AllowedTools(ctx, sessionID)
}

// Health performs a lightweight reachability probe against /health with a
// short timeout, never the full evaluation timeout.
func (r *RemoteEvaluator) Health(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

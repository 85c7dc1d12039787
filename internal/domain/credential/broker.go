// Package credential brokers short-lived credentials for allowed tool
// calls, and revokes them when a session is quarantined.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Grant is a short-lived credential issued for one tool invocation.
type Grant struct {
	Kind      string    `json:"type"`
	Tool      string    `json:"tool"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provider issues and revokes credentials. Implementations back onto a
// stub (local dev), an HTTP broker, or a cloud STS-style service.
type Provider interface {
	GetCredentials(ctx context.Context, tool, scope string, ttlSeconds int) (Grant, error)
	RevokeCredentials(ctx context.Context, sessionID, reason string) (bool, string)
}

// StubProvider issues non-functional placeholder credentials. Used for
// local development and tests.
type StubProvider struct{}

var _ Provider = StubProvider{}

func (StubProvider) GetCredentials(_ context.Context, tool, scope string, ttlSeconds int) (Grant, error) {
	return Grant{
		Kind:      "stub",
		Tool:      tool,
		Scope:     scope,
		ExpiresAt: time.Now().UTC().Add(time.Duration(ttlSeconds) * time.Second),
	}, nil
}

func (StubProvider) RevokeCredentials(_ context.Context, sessionID, _ string) (bool, string) {
	return true, "revoked:" + sessionID
}

// httpRequestTimeout is the outbound timeout for the credential broker,
// per the concurrency model's timeout table.
const httpRequestTimeout = 5 * time.Second

// HTTPProvider issues credentials from an external credential broker
// service over HTTP.
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider builds an HTTPProvider targeting baseURL.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{BaseURL: baseURL, APIKey: apiKey, Client: &http.Client{Timeout: httpRequestTimeout}}
}

type credentialRequest struct {
	Tool  string `json:"tool"`
	Scope string `json:"scope"`
	TTL   int    `json:"ttl"`
}

func (p *HTTPProvider) GetCredentials(ctx context.Context, tool, scope string, ttlSeconds int) (Grant, error) {
	body, err := json.Marshal(credentialRequest{Tool: tool, Scope: scope, TTL: ttlSeconds})
	if err != nil {
		return Grant{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, httpRequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.BaseURL+"/credentials", bytes.NewReader(body))
	if err != nil {
		return Grant{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return Grant{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Grant{}, fmt.Errorf("credential broker returned status %d", resp.StatusCode)
	}

	var grant Grant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return Grant{}, err
	}
	return grant, nil
}

func (p *HTTPProvider) RevokeCredentials(ctx context.Context, sessionID, reason string) (bool, string) {
	reqCtx, cancel := context.WithTimeout(ctx, httpRequestTimeout)
	defer cancel()
	body, _ := json.Marshal(map[string]string{"session_id": sessionID, "reason": reason})
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.BaseURL+"/credentials/revoke", bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("credential broker returned status %d", resp.StatusCode)
	}
	return true, "revoked:" + sessionID
}

// Broker is the gateway-facing facade the orchestrator and quarantine
// coordinator both depend on.
type Broker struct {
	Provider Provider
}

// New wraps a Provider.
func New(provider Provider) *Broker {
	return &Broker{Provider: provider}
}

func (b *Broker) GetCredentials(ctx context.Context, tool, scope string, ttlSeconds int) (Grant, error) {
	return b.Provider.GetCredentials(ctx, tool, scope, ttlSeconds)
}

func (b *Broker) RevokeCredentials(ctx context.Context, sessionID, reason string) (bool, string) {
	return b.Provider.RevokeCredentials(ctx, sessionID, reason)
}

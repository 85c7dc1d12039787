// Package config provides configuration types for the containment gateway.
//
// Configuration is sourced entirely from AGENTGATE_* environment variables
// (see loader.go), following the teacher's viper-based pattern but dropping
// the YAML file search: a gateway's trust boundary (policy secret, admin
// key, PII salt) belongs in the process environment, not a checked-in file.
package config

import (
	"fmt"
	"time"
)

// PIIMode controls how sensitive free-text fields are handled in evidence
// exports. Trace events are stored unscrubbed.
type PIIMode string

const (
	PIIModeOff      PIIMode = "off"
	PIIModeRedact   PIIMode = "redact"
	PIIModeTokenize PIIMode = "tokenize"
)

// Config is the gateway's runtime configuration, populated from
// AGENTGATE_* environment variables.
type Config struct {
	// ListenAddr is the HTTP listen address. Not part of the spec's
	// env-var surface; overridden by the --addr CLI flag.
	ListenAddr string

	// OPAURL is the base URL of the remote policy engine. Empty means the
	// gateway runs entirely on the local evaluator.
	OPAURL string `validate:"omitempty,url"`

	// RedisURL, when set, backs the kill switch KV with Redis instead of
	// the in-memory implementation. Empty means single-replica, in-process KV.
	RedisURL string

	// PolicyPath is the filesystem path to the signed policy package JSON.
	PolicyPath string

	// PolicyPackageSecret is the pre-shared HMAC-SHA256 key used to verify
	// signed policy packages.
	PolicyPackageSecret string

	// RequireSignedPolicy, when true, treats an unsigned or invalid bundle
	// as the empty bundle (deny-by-default) rather than merely warning.
	RequireSignedPolicy bool

	// ApprovalToken is the static shared-secret approval token, compared
	// in constant time against a request's approval_token.
	ApprovalToken string

	// RateWindowSeconds is the sliding-window size for the rate limiter.
	RateWindowSeconds int `validate:"gt=0"`

	// AdminAPIKey gates the /admin/* surface via X-API-Key.
	AdminAPIKey string

	// TraceDB is the filesystem path to the sqlite trace database.
	TraceDB string `validate:"required"`

	// LogLevel is the slog level name: debug, info, warn, error.
	LogLevel string `validate:"oneof=debug info warn error"`

	// PIIMode controls redaction/tokenization of sensitive fields.
	PIIMode PIIMode `validate:"oneof=off redact tokenize"`

	// PIITokenSalt seeds the tokenizer when PIIMode is "tokenize".
	PIITokenSalt string

	// TransparencyAnchorURL, when set, receives POSTed Merkle checkpoints
	// for the transparency log.
	TransparencyAnchorURL string `validate:"omitempty,url"`

	// OTelEnabled turns on OpenTelemetry tracing export.
	OTelEnabled bool
}

// RateWindow returns RateWindowSeconds as a time.Duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// SetDefaults fills in zero-valued fields with the gateway's defaults.
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8080"
	}
	if c.RateWindowSeconds == 0 {
		c.RateWindowSeconds = 60
	}
	if c.TraceDB == "" {
		c.TraceDB = "sentinelgate.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PIIMode == "" {
		c.PIIMode = PIIModeOff
	}
}

// Validate reports configuration errors that should abort startup: struct
// tag validation plus the cross-field rules tag validation cannot express.
func (c *Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	if c.PIIMode == PIIModeTokenize && c.PIITokenSalt == "" {
		return fmt.Errorf("AGENTGATE_PII_TOKEN_SALT is required when AGENTGATE_PII_MODE=tokenize")
	}
	if c.RequireSignedPolicy && c.PolicyPackageSecret == "" {
		return fmt.Errorf("AGENTGATE_POLICY_PACKAGE_SECRET is required when AGENTGATE_REQUIRE_SIGNED_POLICY=true")
	}
	return nil
}

package config

import (
	"strings"
	"testing"
)

func minimalValidConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidPIIMode(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.PIIMode = "encrypt"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid PIIMode")
	}
	if !strings.Contains(err.Error(), "PIIMode") {
		t.Errorf("error = %v, want it to mention PIIMode", err)
	}
}

func TestValidate_TokenizeRequiresSalt(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.PIIMode = PIIModeTokenize

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error when tokenize mode has no salt")
	}
	if !strings.Contains(err.Error(), "PII_TOKEN_SALT") {
		t.Errorf("error = %v, want it to mention PII_TOKEN_SALT", err)
	}
}

func TestValidate_RequireSignedPolicyNeedsSecret(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.RequireSignedPolicy = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error when signed policy is required but no secret is set")
	}
	if !strings.Contains(err.Error(), "POLICY_PACKAGE_SECRET") {
		t.Errorf("error = %v, want it to mention POLICY_PACKAGE_SECRET", err)
	}
}

func TestValidate_InvalidOPAURL(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.OPAURL = "not a url"

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for malformed OPAURL")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.LogLevel = "verbose"

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestValidate_NonPositiveRateWindow(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.RateWindowSeconds = 0

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-positive rate window")
	}
}

// Package config provides configuration loading for the containment gateway.
package config

import (
	"github.com/spf13/viper"
)

// envBindings lists every AGENTGATE_* key this process reads, mapped to
// its viper key.
var envBindings = map[string]string{
	"opa_url":                 "AGENTGATE_OPA_URL",
	"redis_url":               "AGENTGATE_REDIS_URL",
	"policy_path":             "AGENTGATE_POLICY_PATH",
	"policy_package_secret":   "AGENTGATE_POLICY_PACKAGE_SECRET",
	"require_signed_policy":   "AGENTGATE_REQUIRE_SIGNED_POLICY",
	"approval_token":          "AGENTGATE_APPROVAL_TOKEN",
	"rate_window_seconds":     "AGENTGATE_RATE_WINDOW_SECONDS",
	"admin_api_key":           "AGENTGATE_ADMIN_API_KEY",
	"trace_db":                "AGENTGATE_TRACE_DB",
	"log_level":               "AGENTGATE_LOG_LEVEL",
	"pii_mode":                "AGENTGATE_PII_MODE",
	"pii_token_salt":          "AGENTGATE_PII_TOKEN_SALT",
	"transparency_anchor_url": "AGENTGATE_TRANSPARENCY_ANCHOR_URL",
	"otel_enabled":            "AGENTGATE_OTEL_ENABLED",
}

// InitViper binds every AGENTGATE_* environment variable viper will read
// when LoadConfig is called.
func InitViper() {
	for key, env := range envBindings {
		_ = viper.BindEnv(key, env)
	}
}

// LoadConfig reads AGENTGATE_* environment variables, applies defaults,
// and validates the result.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		OPAURL:                viper.GetString("opa_url"),
		RedisURL:              viper.GetString("redis_url"),
		PolicyPath:            viper.GetString("policy_path"),
		PolicyPackageSecret:   viper.GetString("policy_package_secret"),
		RequireSignedPolicy:   viper.GetBool("require_signed_policy"),
		ApprovalToken:         viper.GetString("approval_token"),
		RateWindowSeconds:     viper.GetInt("rate_window_seconds"),
		AdminAPIKey:           viper.GetString("admin_api_key"),
		TraceDB:               viper.GetString("trace_db"),
		LogLevel:              viper.GetString("log_level"),
		PIIMode:               PIIMode(viper.GetString("pii_mode")),
		PIITokenSalt:          viper.GetString("pii_token_salt"),
		TransparencyAnchorURL: viper.GetString("transparency_anchor_url"),
		OTelEnabled:           viper.GetBool("otel_enabled"),
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

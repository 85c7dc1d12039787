package config

import "testing"

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.ListenAddr != "127.0.0.1:8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, "127.0.0.1:8080")
	}
	if cfg.RateWindowSeconds != 60 {
		t.Errorf("RateWindowSeconds = %d, want 60", cfg.RateWindowSeconds)
	}
	if cfg.TraceDB != "sentinelgate.db" {
		t.Errorf("TraceDB = %q, want default", cfg.TraceDB)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.PIIMode != PIIModeOff {
		t.Errorf("PIIMode = %q, want off", cfg.PIIMode)
	}
}

func TestConfig_SetDefaults_PreservesExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{ListenAddr: "0.0.0.0:9090", RateWindowSeconds: 30}
	cfg.SetDefaults()

	if cfg.ListenAddr != "0.0.0.0:9090" {
		t.Errorf("ListenAddr overwritten: %q", cfg.ListenAddr)
	}
	if cfg.RateWindowSeconds != 30 {
		t.Errorf("RateWindowSeconds overwritten: %d", cfg.RateWindowSeconds)
	}
}

func TestConfig_RateWindow(t *testing.T) {
	t.Parallel()

	cfg := Config{RateWindowSeconds: 60}
	if got := cfg.RateWindow().Seconds(); got != 60 {
		t.Errorf("RateWindow() = %v seconds, want 60", got)
	}
}

package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	yaml := []byte(`
server:
  port: 18810
  host: localhost
ratelimit:
  per_minute: 10
  per_hour: 100
tasks:
  ttl: 2h
  workers: 2
capabilities:
  - name: docs.extract
    scope: tools.docs
    timeout: 30s
`)
	f, _ := os.CreateTemp("", "config-*.yaml")
	f.Write(yaml)
	f.Close()
	defer os.Remove(f.Name())

	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 18810 {
		t.Errorf("Expected port 18810, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.PerMinute != 10 {
		t.Errorf("Expected per_minute 10, got %d", cfg.RateLimit.PerMinute)
	}
	if cfg.Tasks.GetTTL() != 2*time.Hour {
		t.Errorf("Expected ttl 2h, got %v", cfg.Tasks.GetTTL())
	}
	// Defaults survive a partial file
	if cfg.Limits.MaxDepth != 10 {
		t.Errorf("Expected default max_depth 10, got %d", cfg.Limits.MaxDepth)
	}
	if len(cfg.Capabilities) != 1 || cfg.Capabilities[0].GetTimeout() != 30*time.Second {
		t.Errorf("Capability override not parsed: %+v", cfg.Capabilities)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for invalid port")
	}
}

func TestValidateHourBelowMinute(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.PerMinute = 100
	cfg.RateLimit.PerHour = 10
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for per_hour < per_minute")
	}
}

func TestValidateRedisAddr(t *testing.T) {
	cfg := Default()
	cfg.Redis.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for enabled redis without addr")
	}
}

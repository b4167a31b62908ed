package config

import (
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	t.Setenv("REDIS_ADDR", "localhost:6379")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.RoutingStrategy != "default" {
		t.Errorf("RoutingStrategy = %q", cfg.RoutingStrategy)
	}
	if !cfg.FallbackEnabled {
		t.Error("fallback should default to enabled")
	}
	want := []string{"openai", "anthropic", "gemini"}
	if len(cfg.FallbackOrder) != len(want) {
		t.Fatalf("FallbackOrder = %v", cfg.FallbackOrder)
	}
	for i := range want {
		if cfg.FallbackOrder[i] != want[i] {
			t.Errorf("FallbackOrder = %v, want %v", cfg.FallbackOrder, want)
		}
	}
	if cfg.DefaultRateLimitTPM != 100000 {
		t.Errorf("DefaultRateLimitTPM = %d", cfg.DefaultRateLimitTPM)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	if _, err := Load(); err == nil {
		t.Error("expected error for missing POSTGRES_DSN")
	}
}

func TestLoad_FallbackOrderParsing(t *testing.T) {
	setRequired(t)
	t.Setenv("FALLBACK_ORDER", " gemini , openai ,, ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.FallbackOrder) != 2 || cfg.FallbackOrder[0] != "gemini" || cfg.FallbackOrder[1] != "openai" {
		t.Errorf("FallbackOrder = %v", cfg.FallbackOrder)
	}
}

func TestLoad_InvalidFallbackEnabled(t *testing.T) {
	setRequired(t)
	t.Setenv("FALLBACK_ENABLED", "maybe")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid FALLBACK_ENABLED")
	}
}

func TestRoutingRules_OmitsUnset(t *testing.T) {
	cfg := &Config{RouteComplex: "anthropic/claude-3-5-sonnet-20241022"}
	rules := cfg.RoutingRules()
	if len(rules) != 1 {
		t.Fatalf("rules = %v", rules)
	}
	if rules["complex-reasoning"] != "anthropic/claude-3-5-sonnet-20241022" {
		t.Errorf("rules = %v", rules)
	}
}

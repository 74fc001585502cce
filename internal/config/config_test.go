package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "FRONTEND_URL", "LOG_LEVEL",
		"STORE_BACKEND", "DB_PATH", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"COACH_PROVIDER", "GROQ_API_KEY", "OPENAI_API_KEY", "COACH_BASE_URL", "COACH_MODEL",
		"COACH_GRPC_ADDR", "COACH_TIMEOUT", "COACH_MAX_ATTEMPTS",
		"RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW", "NATS_URL", "TRANSITION_DELAY",
	} {
		if value, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { _ = os.Setenv(key, value) })
			_ = os.Unsetenv(key)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Coach.Provider != "scripted" {
		t.Errorf("Provider = %q, want scripted without an API key", cfg.Coach.Provider)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.TransitionDelay != 2*time.Second {
		t.Errorf("TransitionDelay = %s, want 2s", cfg.TransitionDelay)
	}
}

func TestLoadAPIKeySelectsOpenAI(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Coach.Provider != "openai" || cfg.Coach.APIKey != "gsk_test" {
		t.Errorf("got provider %q key %q", cfg.Coach.Provider, cfg.Coach.APIKey)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "goalcoach.yaml")
	content := `
port: "9090"
store:
  backend: redis
  redis_addr: "redis:6379"
coach:
  provider: grpc
  grpc_addr: "coach:50051"
  request_timeout: 5s
rate_limit:
  requests: 5
  window: 10s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("env must override file: Port = %q", cfg.Port)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.RedisAddr != "redis:6379" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Coach.Provider != "grpc" || cfg.Coach.RequestTimeout != 5*time.Second {
		t.Errorf("coach = %+v", cfg.Coach)
	}
	if cfg.RateLimit.Requests != 5 || cfg.RateLimit.Window != 10*time.Second {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Store.DBPath != "./data/goalcoach.db" {
		t.Errorf("unset file fields keep defaults, DBPath = %q", cfg.Store.DBPath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }},
		{"redis without addr", func(c *Config) { c.Store.Backend = "redis" }},
		{"openai without key", func(c *Config) { c.Coach.Provider = "openai" }},
		{"unknown provider", func(c *Config) { c.Coach.Provider = "magic" }},
		{"zero timeout", func(c *Config) { c.Coach.RequestTimeout = 0 }},
		{"rate limit without window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"negative delay", func(c *Config) { c.TransitionDelay = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Coach.Provider = "scripted"
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := Defaults()
	if !cfg.IsDevelopment() {
		t.Error("empty frontend URL is development")
	}
	cfg.FrontendURL = "https://goalcoach.example.com"
	if cfg.IsDevelopment() {
		t.Error("public frontend URL is not development")
	}
}

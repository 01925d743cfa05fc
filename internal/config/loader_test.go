package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8091" {
		t.Errorf("expected port 8091, got %s", cfg.Server.Port)
	}
	if cfg.Poller.Interval != 2*time.Second {
		t.Errorf("expected poll interval 2s, got %v", cfg.Poller.Interval)
	}
	if cfg.Stream.ReconnectDelay != 100*time.Millisecond {
		t.Errorf("expected reconnect delay 100ms, got %v", cfg.Stream.ReconnectDelay)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
backend:
  url: "http://backend:1430"
poller:
  interval: 5s
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Backend.URL != "http://backend:1430" {
		t.Errorf("expected backend url override, got %s", cfg.Backend.URL)
	}
	if cfg.Poller.Interval != 5*time.Second {
		t.Errorf("expected poll interval 5s, got %v", cfg.Poller.Interval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Stream.ReconnectDelay != 100*time.Millisecond {
		t.Errorf("expected default reconnect delay, got %v", cfg.Stream.ReconnectDelay)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("MCPGATE_PORT", "7070")
	t.Setenv("MCPGATE_BACKEND_URL", "http://localhost:9999")
	t.Setenv("MCPGATE_POLL_INTERVAL", "500ms")
	t.Setenv("MCPGATE_LOG_LEVEL", "warn")
	t.Setenv("MCPGATE_BREAKER_TIMEOUT", "1m")
	t.Setenv("MCPGATE_LOG_ASYNC", "true")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Backend.URL != "http://localhost:9999" {
		t.Errorf("expected backend url override, got %s", cfg.Backend.URL)
	}
	if cfg.Poller.Interval != 500*time.Millisecond {
		t.Errorf("expected poll interval 500ms, got %v", cfg.Poller.Interval)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if !cfg.Logging.Async {
		t.Error("expected async logging enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"empty backend url", func(c *Config) { c.Backend.URL = "" }},
		{"zero poll interval", func(c *Config) { c.Poller.Interval = 0 }},
		{"negative reconnect delay", func(c *Config) { c.Stream.ReconnectDelay = -time.Second }},
		{"zero cache size", func(c *Config) { c.Cache.MaxSizeMB = 0 }},
		{"zero breaker failures", func(c *Config) { c.Breaker.MaxFailures = 0 }},
		{"zero poll concurrency", func(c *Config) { c.Poller.MaxConcurrent = 0 }},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitRPS = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFrom(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/mcpgate.yaml")
	if err != nil {
		t.Fatalf("LoadFrom with missing file: %v", err)
	}
	if cfg.Server.Port != "8091" {
		t.Errorf("expected default port, got %s", cfg.Server.Port)
	}
}

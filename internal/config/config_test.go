package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Sandbox.Backend != "auto" {
		t.Errorf("Sandbox.Backend = %q, want auto", cfg.Sandbox.Backend)
	}
	if cfg.Sandbox.AllowNative {
		t.Error("Sandbox.AllowNative should be off by default")
	}
	if cfg.Sandbox.DefaultTimeout != 30*time.Second {
		t.Errorf("Sandbox.DefaultTimeout = %s, want 30s", cfg.Sandbox.DefaultTimeout)
	}
	if cfg.Hooks.MaxListeners != 16 {
		t.Errorf("Hooks.MaxListeners = %d, want 16", cfg.Hooks.MaxListeners)
	}
	if cfg.Hooks.PruneSchedule != "@every 1h" {
		t.Errorf("Hooks.PruneSchedule = %q", cfg.Hooks.PruneSchedule)
	}
	for _, hook := range []string{"on_run", "on_error", "on_save"} {
		if !cfg.HookEnabled(hook) {
			t.Errorf("hook %s should be enabled by default", hook)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"unknown backend", func(c *Config) { c.Sandbox.Backend = "firecracker" }, true},
		{"native backend", func(c *Config) { c.Sandbox.Backend = "native" }, false},
		{"default_timeout > max_timeout", func(c *Config) {
			c.Sandbox.DefaultTimeout = 2 * time.Minute
			c.Sandbox.MaxTimeout = 1 * time.Minute
		}, true},
		{"max_timeout above 300s", func(c *Config) { c.Sandbox.MaxTimeout = 301 * time.Second }, true},
		{"max_timeout 300s", func(c *Config) { c.Sandbox.MaxTimeout = 300 * time.Second }, false},
		{"zero default timeout", func(c *Config) { c.Sandbox.DefaultTimeout = 0 }, true},
		{"max_concurrent 0", func(c *Config) { c.Sandbox.MaxConcurrent = 0 }, true},
		{"scratch_mb 0", func(c *Config) { c.Sandbox.ScratchMB = 0 }, true},
		{"prepare_concurrency 0", func(c *Config) { c.Sandbox.PrepareConcurrency = 0 }, true},
		{"history_size 0", func(c *Config) { c.Hooks.HistorySize = 0 }, true},
		{"max_listeners 0", func(c *Config) { c.Hooks.MaxListeners = 0 }, true},
		{"unknown hook type", func(c *Config) { c.Hooks.Enabled["on_deploy"] = true }, true},
		{"temperature 3", func(c *Config) { c.Assistant.Temperature = 3 }, true},
		{"redis enabled without url", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.URL = ""
		}, true},
		{"tracing with unknown protocol", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Protocol = "zipkin"
		}, true},
		{"tracing without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Endpoint = ""
		}, true},
		{"tracing over http", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Protocol = "http"
		}, false},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = ""
			c.TLS.KeyFile = ""
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
sandbox:
  backend: docker
  max_concurrent: 50
  default_timeout: 15s
  max_timeout: 120s
hooks:
  enabled:
    on_save: false
  history_size: 50
redis:
  enabled: true
  url: redis://cache:6379/1
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Sandbox.Backend != "docker" {
		t.Errorf("Sandbox.Backend = %q, want docker", cfg.Sandbox.Backend)
	}
	if cfg.Sandbox.MaxConcurrent != 50 {
		t.Errorf("Sandbox.MaxConcurrent = %d, want 50", cfg.Sandbox.MaxConcurrent)
	}
	if cfg.Sandbox.DefaultTimeout != 15*time.Second {
		t.Errorf("Sandbox.DefaultTimeout = %s, want 15s", cfg.Sandbox.DefaultTimeout)
	}
	if cfg.HookEnabled("on_save") {
		t.Error("on_save should be disabled")
	}
	if !cfg.HookEnabled("on_run") {
		t.Error("on_run should keep its default")
	}
	if cfg.Hooks.HistorySize != 50 {
		t.Errorf("Hooks.HistorySize = %d, want 50", cfg.Hooks.HistorySize)
	}
	if cfg.Redis.URL != "redis://cache:6379/1" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("DATABASE_URL", "postgres://localhost/sandbox")
	t.Setenv("REDIS_URL", "redis://other:6379/0")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("ASSISTANT_MODEL", "llama3")
	t.Setenv("SANDBOX_BACKEND", "native")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if !cfg.Tracing.Enabled || cfg.Tracing.Endpoint != "otel-collector:4317" {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Database.DSN != "postgres://localhost/sandbox" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
	if !cfg.Redis.Enabled || cfg.Redis.URL != "redis://other:6379/0" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Assistant.APIKey != "sk-test" {
		t.Errorf("Assistant.APIKey = %q", cfg.Assistant.APIKey)
	}
	if cfg.Assistant.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("Assistant.BaseURL = %q", cfg.Assistant.BaseURL)
	}
	if cfg.Assistant.Model != "llama3" {
		t.Errorf("Assistant.Model = %q", cfg.Assistant.Model)
	}
	if cfg.Sandbox.Backend != "native" {
		t.Errorf("Sandbox.Backend = %q", cfg.Sandbox.Backend)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestApplyEnv_BadPort(t *testing.T) {
	t.Setenv("PORT", "eighty")
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want unchanged 8080", cfg.Server.Port)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Setenv("PORT", "9191")
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}

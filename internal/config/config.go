package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Security  SecurityConfig  `yaml:"security"`
	Hooks     HooksConfig     `yaml:"hooks"`
	Assistant AssistantConfig `yaml:"assistant"`
	Redis     RedisConfig     `yaml:"redis"`
	Notify    NotifyConfig    `yaml:"notify"`
	TLS       TLSConfig       `yaml:"tls"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

type SandboxConfig struct {
	Backend          string        `yaml:"backend"` // "auto" (default), "containerd", "docker" or "native"
	ContainerdSocket string        `yaml:"containerd_socket"`
	Namespace        string        `yaml:"namespace"`
	DefaultTimeout   time.Duration `yaml:"default_timeout"`
	MaxTimeout       time.Duration `yaml:"max_timeout"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	ScratchMB        int64         `yaml:"scratch_mb"`
	// AllowNative lets auto detection fall back to plain subprocesses.
	AllowNative        bool          `yaml:"allow_native"`
	PrepareImages      bool          `yaml:"prepare_images"`
	PrepareConcurrency int           `yaml:"prepare_concurrency"`
	OrphanSweep        time.Duration `yaml:"orphan_sweep_interval"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AuditBuffer     int           `yaml:"audit_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Protocol    string  `yaml:"protocol"` // grpc or http
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	Sample      float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// HooksConfig controls the event hook manager.
type HooksConfig struct {
	// Enabled maps event type to its flag; missing types stay enabled.
	Enabled       map[string]bool `yaml:"enabled"`
	HistorySize   int             `yaml:"history_size"`
	MaxListeners  int             `yaml:"max_listeners"`
	PruneSchedule string          `yaml:"prune_schedule"`
	MaxAge        time.Duration   `yaml:"max_age"`
	Timeout       time.Duration   `yaml:"timeout"`
}

type AssistantConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int64         `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// NotifyConfig tunes the websocket connection registry.
type NotifyConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	InboundRPS      float64       `yaml:"inbound_rps"`
	InboundBurst    int           `yaml:"inbound_burst"`
	OutputChunk     int           `yaml:"output_chunk_bytes"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Load reads configuration from a YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults otherwise.
// A .env file in the working directory is read first when present.
func LoadOrDefault(path string) (*Config, error) {
	_ = godotenv.Load()

	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	log.Info().Str("path", path).Msg("no config file found, using defaults")
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    65 * time.Second, // > max sandbox timeout + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Sandbox: SandboxConfig{
			Backend:            "auto",
			ContainerdSocket:   "/run/containerd/containerd.sock",
			Namespace:          "sandbox",
			DefaultTimeout:     30 * time.Second,
			MaxTimeout:         60 * time.Second,
			MaxConcurrent:      100,
			ScratchMB:          64,
			PrepareImages:      true,
			PrepareConcurrency: 3,
			OrphanSweep:        5 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AuditBuffer:     10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
			Insecure: true,
			Sample:   0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		Hooks: HooksConfig{
			Enabled: map[string]bool{
				"on_run":   true,
				"on_error": true,
				"on_save":  true,
			},
			HistorySize:   1000,
			MaxListeners:  16,
			PruneSchedule: "@every 1h",
			MaxAge:        24 * time.Hour,
			Timeout:       30 * time.Second,
		},
		Assistant: AssistantConfig{
			Enabled:     true,
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   300,
			Timeout:     30 * time.Second,
			MaxRetries:  2,
		},
		Redis: RedisConfig{
			Enabled:       false,
			URL:           "redis://localhost:6379/0",
			ChannelPrefix: "livecode",
		},
		Notify: NotifyConfig{
			WriteTimeout:    5 * time.Second,
			MaxMessageBytes: 64 * 1024,
			InboundRPS:      10,
			InboundBurst:    20,
			OutputChunk:     4096,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ApplyEnv overrides file values with well-known environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		} else {
			log.Warn().Str("PORT", v).Msg("ignoring non-numeric PORT")
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Assistant.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Assistant.BaseURL = v
	}
	if v := os.Getenv("ASSISTANT_MODEL"); v != "" {
		c.Assistant.Model = v
	}
	if v := os.Getenv("SANDBOX_BACKEND"); v != "" {
		c.Sandbox.Backend = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
		c.Tracing.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch c.Sandbox.Backend {
	case "", "auto", "containerd", "docker", "native":
	default:
		return fmt.Errorf("sandbox.backend must be auto, containerd, docker or native, got %q", c.Sandbox.Backend)
	}
	if c.Sandbox.DefaultTimeout <= 0 {
		return fmt.Errorf("sandbox.default_timeout must be positive")
	}
	if c.Sandbox.MaxTimeout > 300*time.Second {
		return fmt.Errorf("sandbox.max_timeout must be <= 300s, got %s", c.Sandbox.MaxTimeout)
	}
	if c.Sandbox.DefaultTimeout > c.Sandbox.MaxTimeout {
		return fmt.Errorf("sandbox.default_timeout (%s) must be <= max_timeout (%s)",
			c.Sandbox.DefaultTimeout, c.Sandbox.MaxTimeout)
	}
	if c.Sandbox.MaxConcurrent < 1 {
		return fmt.Errorf("sandbox.max_concurrent must be >= 1")
	}
	if c.Sandbox.ScratchMB < 1 || c.Sandbox.ScratchMB > 1024 {
		return fmt.Errorf("sandbox.scratch_mb must be 1-1024, got %d", c.Sandbox.ScratchMB)
	}
	if c.Sandbox.PrepareConcurrency < 1 {
		return fmt.Errorf("sandbox.prepare_concurrency must be >= 1")
	}
	if c.Hooks.HistorySize < 1 {
		return fmt.Errorf("hooks.history_size must be >= 1")
	}
	if c.Hooks.MaxListeners < 1 {
		return fmt.Errorf("hooks.max_listeners must be >= 1")
	}
	for name := range c.Hooks.Enabled {
		switch name {
		case "on_run", "on_error", "on_save":
		default:
			return fmt.Errorf("hooks.enabled: unknown event type %q", name)
		}
	}
	if c.Assistant.Temperature < 0 || c.Assistant.Temperature > 2 {
		return fmt.Errorf("assistant.temperature must be 0-2, got %g", c.Assistant.Temperature)
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis is enabled")
	}
	if c.Notify.WriteTimeout <= 0 {
		return fmt.Errorf("notify.write_timeout must be positive")
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("tracing.protocol must be grpc or http, got %q", c.Tracing.Protocol)
		}
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
		}
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// HookEnabled reports the configured flag for an event type, defaulting to true.
func (c *Config) HookEnabled(eventType string) bool {
	enabled, ok := c.Hooks.Enabled[eventType]
	return !ok || enabled
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

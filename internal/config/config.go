// Package config loads the gateway's server configuration from YAML.
// The registry document (providers, models, routes) lives in its own file
// and is hot-reloaded by internal/registry; everything here is read once
// at startup. ${VAR} references are expanded from the environment, and
// credential fields hold handles (resolved via internal/secret), never
// literal secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// AuthConfig controls caller authentication. When disabled, the caller
// identity is taken from the request body / query parameters untrusted.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKeys []APIKeyEntry `yaml:"api_keys"`
	JWT     JWTConfig     `yaml:"jwt"`
}

// APIKeyEntry maps one static API key to a caller identity. KeyEnv is a
// credential handle (env var name or scheme URI), never the key itself.
type APIKeyEntry struct {
	KeyEnv   string `yaml:"key_env"`
	CallerID string `yaml:"caller_id"`
	Role     string `yaml:"role"`
}

// JWTConfig enables HS256 bearer tokens. SecretEnv is a credential handle.
type JWTConfig struct {
	SecretEnv string `yaml:"secret_env"`
	Issuer    string `yaml:"issuer"`
}

// RateLimitConfig defines per-caller rate limiting on the completion
// endpoint.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// DatabaseConfig selects the observability store. An empty connection
// resolves to the in-memory store.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// ConnString returns the lib/pq connection string, preferring an explicit
// DSN over the discrete fields. Empty means no database is configured.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	if d.Host == "" {
		return ""
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	conn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", d.Host, d.Port, d.Name, sslMode)
	if d.User != "" {
		conn += fmt.Sprintf(" user=%s", d.User)
	}
	if d.Password != "" {
		conn += fmt.Sprintf(" password=%s", d.Password)
	}
	return conn
}

// GatewayConfig groups routing, RAG, and breaker settings.
type GatewayConfig struct {
	RegistryPath string        `yaml:"registry_path"`
	Watch        bool          `yaml:"watch"`
	RAG          RAGConfig     `yaml:"rag"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// RAGConfig tunes the reranker and context injection defaults. Requests
// may override top_k and the injection strategy per call.
type RAGConfig struct {
	TopK              int     `yaml:"top_k"`
	VectorWeight      float64 `yaml:"vector_weight"`
	LexicalWeight     float64 `yaml:"lexical_weight"`
	InjectionStrategy string  `yaml:"injection_strategy"` // system, user
}

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	HalfOpenMax      int           `yaml:"half_open_max"`
}

// SecretsConfig configures credential handle resolution.
type SecretsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Vault    VaultConfig   `yaml:"vault"`
}

// VaultConfig enables the vault:// handle scheme.
type VaultConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	AuthMethod string `yaml:"auth_method"` // token, approle, cert
	Token      string `yaml:"token"`
	RoleID     string `yaml:"role_id"`
	SecretID   string `yaml:"secret_id"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP gRPC endpoint, e.g. "localhost:4317"
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// AlertsConfig enables webhook alerts on breaker transitions and
// exhausted fallback chains.
type AlertsConfig struct {
	WebhookURL  string        `yaml:"webhook_url"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// ArchiveConfig enables batched JSONL export of request logs to
// S3-compatible storage. Key fields are credential handles.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	Endpoint      string        `yaml:"endpoint"`
	AccessKeyEnv  string        `yaml:"access_key_env"`
	SecretKeyEnv  string        `yaml:"secret_key_env"`
	PathPrefix    string        `yaml:"path_prefix"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

// DefaultConfig returns a configuration with sensible defaults. A gateway
// started with no config file serves on :8080 with the in-memory store
// and the built-in default registry.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Gateway: GatewayConfig{
			RegistryPath: "config/registry.yaml",
			Watch:        true,
			RAG: RAGConfig{
				TopK:              5,
				VectorWeight:      0.3,
				LexicalWeight:     0.7,
				InjectionStrategy: "system",
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Cooldown:         60 * time.Second,
				HalfOpenMax:      1,
			},
		},
		Secrets: SecretsConfig{
			CacheTTL: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics/prometheus",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "modelgate",
			SampleRate:  1.0,
			Insecure:    true,
		},
		Alerts: AlertsConfig{
			MinInterval: 5 * time.Minute,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			FlushInterval: 10 * time.Second,
			BatchSize:     100,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file over the
// defaults. Environment variables in the format ${VAR_NAME} are expanded
// before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Log.Format)
	}

	if c.Auth.Enabled {
		if len(c.Auth.APIKeys) == 0 && c.Auth.JWT.SecretEnv == "" {
			return fmt.Errorf("auth enabled but no api_keys or jwt.secret_env configured")
		}
		for i, k := range c.Auth.APIKeys {
			if k.KeyEnv == "" {
				return fmt.Errorf("auth.api_keys[%d]: key_env is required", i)
			}
			if k.CallerID == "" {
				return fmt.Errorf("auth.api_keys[%d]: caller_id is required", i)
			}
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive when enabled")
	}

	if c.Gateway.RegistryPath == "" {
		return fmt.Errorf("gateway.registry_path is required")
	}
	rag := c.Gateway.RAG
	if rag.TopK < 0 {
		return fmt.Errorf("gateway.rag.top_k cannot be negative")
	}
	if rag.VectorWeight < 0 || rag.VectorWeight > 1 {
		return fmt.Errorf("gateway.rag.vector_weight must be in [0, 1]")
	}
	if rag.LexicalWeight < 0 || rag.LexicalWeight > 1 {
		return fmt.Errorf("gateway.rag.lexical_weight must be in [0, 1]")
	}
	switch rag.InjectionStrategy {
	case "", "system", "user":
	default:
		return fmt.Errorf("invalid gateway.rag.injection_strategy: %q", rag.InjectionStrategy)
	}

	br := c.Gateway.Breaker
	if br.FailureThreshold < 1 {
		return fmt.Errorf("gateway.breaker.failure_threshold must be at least 1")
	}
	if br.Cooldown <= 0 {
		return fmt.Errorf("gateway.breaker.cooldown must be positive")
	}
	if br.HalfOpenMax < 1 {
		return fmt.Errorf("gateway.breaker.half_open_max must be at least 1")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive is enabled")
		}
		if c.Archive.BatchSize <= 0 {
			return fmt.Errorf("archive.batch_size must be positive")
		}
	}

	return nil
}

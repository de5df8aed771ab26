package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 120*time.Second {
		t.Errorf("default write timeout = %v, want 120s", cfg.Server.WriteTimeout)
	}
	if cfg.Gateway.Breaker.FailureThreshold != 5 {
		t.Errorf("default breaker threshold = %d, want 5", cfg.Gateway.Breaker.FailureThreshold)
	}
	if cfg.Gateway.Breaker.Cooldown != 60*time.Second {
		t.Errorf("default breaker cooldown = %v, want 60s", cfg.Gateway.Breaker.Cooldown)
	}
	if cfg.Gateway.RAG.TopK != 5 {
		t.Errorf("default rag top_k = %d, want 5", cfg.Gateway.RAG.TopK)
	}
	if cfg.Gateway.RAG.VectorWeight != 0.3 || cfg.Gateway.RAG.LexicalWeight != 0.7 {
		t.Errorf("default rag weights = %v/%v, want 0.3/0.7",
			cfg.Gateway.RAG.VectorWeight, cfg.Gateway.RAG.LexicalWeight)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func(mutate func(*Config)) *Config {
		cfg := DefaultConfig()
		mutate(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "defaults",
			cfg:     valid(func(*Config) {}),
			wantErr: false,
		},
		{
			name:    "invalid port zero",
			cfg:     valid(func(c *Config) { c.Server.Port = 0 }),
			wantErr: true,
		},
		{
			name:    "invalid port too high",
			cfg:     valid(func(c *Config) { c.Server.Port = 70000 }),
			wantErr: true,
		},
		{
			name:    "invalid log level",
			cfg:     valid(func(c *Config) { c.Log.Level = "verbose" }),
			wantErr: true,
		},
		{
			name: "auth enabled without credentials",
			cfg: valid(func(c *Config) {
				c.Auth.Enabled = true
			}),
			wantErr: true,
		},
		{
			name: "api key entry missing caller id",
			cfg: valid(func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.APIKeys = []APIKeyEntry{{KeyEnv: "GATEWAY_KEY_OPS"}}
			}),
			wantErr: true,
		},
		{
			name: "api key entry complete",
			cfg: valid(func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.APIKeys = []APIKeyEntry{{KeyEnv: "GATEWAY_KEY_OPS", CallerID: "ops", Role: "admin"}}
			}),
			wantErr: false,
		},
		{
			name:    "vector weight above one",
			cfg:     valid(func(c *Config) { c.Gateway.RAG.VectorWeight = 1.5 }),
			wantErr: true,
		},
		{
			name:    "unknown injection strategy",
			cfg:     valid(func(c *Config) { c.Gateway.RAG.InjectionStrategy = "footer" }),
			wantErr: true,
		},
		{
			name:    "breaker threshold zero",
			cfg:     valid(func(c *Config) { c.Gateway.Breaker.FailureThreshold = 0 }),
			wantErr: true,
		},
		{
			name: "rate limit enabled without rpm",
			cfg: valid(func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.RequestsPerMinute = 0
			}),
			wantErr: true,
		},
		{
			name:    "sample rate out of range",
			cfg:     valid(func(c *Config) { c.Tracing.SampleRate = 2 }),
			wantErr: true,
		},
		{
			name: "archive enabled without bucket",
			cfg: valid(func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Bucket = ""
			}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  port: 9090
  write_timeout: 90s
log:
  level: debug
gateway:
  registry_path: /etc/modelgate/registry.yaml
  rag:
    top_k: 3
auth:
  enabled: true
  api_keys:
    - key_env: ${KEY_HANDLE_VAR}
      caller_id: ci
      role: admin
`
	t.Setenv("KEY_HANDLE_VAR", "GATEWAY_KEY_CI")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 90*time.Second {
		t.Errorf("write timeout = %v, want 90s", cfg.Server.WriteTimeout)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("read timeout should keep default 30s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Gateway.RegistryPath != "/etc/modelgate/registry.yaml" {
		t.Errorf("registry path = %q", cfg.Gateway.RegistryPath)
	}
	if cfg.Gateway.RAG.TopK != 3 {
		t.Errorf("rag top_k = %d, want 3", cfg.Gateway.RAG.TopK)
	}
	if cfg.Gateway.RAG.VectorWeight != 0.3 {
		t.Errorf("rag vector weight should keep default, got %v", cfg.Gateway.RAG.VectorWeight)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].KeyEnv != "GATEWAY_KEY_CI" {
		t.Errorf("env expansion failed: %+v", cfg.Auth.APIKeys)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(dir, "nope.yaml"))
		if err == nil {
			t.Fatal("expected error for missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFromFile(path); err == nil {
			t.Fatal("expected parse error")
		}
	})

	t.Run("fails validation", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		if err := os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := LoadFromFile(path)
		if err == nil || !strings.Contains(err.Error(), "port") {
			t.Fatalf("expected port validation error, got %v", err)
		}
	})
}

func TestDatabaseConnString(t *testing.T) {
	tests := []struct {
		name string
		db   DatabaseConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			db:   DatabaseConfig{DSN: "postgres://u:p@h/db", Host: "ignored"},
			want: "postgres://u:p@h/db",
		},
		{
			name: "empty means no database",
			db:   DatabaseConfig{},
			want: "",
		},
		{
			name: "discrete fields",
			db:   DatabaseConfig{Host: "db", Port: 5432, User: "gate", Password: "pw", Name: "obs"},
			want: "host=db port=5432 dbname=obs sslmode=disable user=gate password=pw",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.db.ConnString(); got != tt.want {
				t.Errorf("ConnString() = %q, want %q", got, tt.want)
			}
		})
	}
}

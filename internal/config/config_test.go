package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

// clearEnv unsets the override variables for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvAPIKey, EnvStoragePath, EnvListenAddr, EnvDefaultMailbox, EnvActivationURL, EnvLogLevel} {
		key := key
		if old, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, old) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func validConfig() Config {
	cfg := Config{}
	cfg.setDefaults()
	return cfg
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	cfgPath := writeConfig(t, `
storage:
  path: "/tmp/test.db"
  starter_file: "starter.json"

api:
  listen_addr: ":9080"
  api_key: "test-api-key"
  read_timeout: 5s
  allowed_ips:
    - "10.0.0.0/8"

activation:
  url: "https://mail.example.com/"
  default_mailbox: "ops@example.com"
  default_mode: "all"
  quota:
    per_client:
      per_hour: 10
      per_day: 50

logging:
  level: "debug"
  format: "text"

metrics:
  enabled: true
  path: "/internal/metrics"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Path != "/tmp/test.db" {
		t.Errorf("Storage.Path = %v", cfg.Storage.Path)
	}
	if cfg.Storage.StarterFile != filepath.Join(filepath.Dir(cfgPath), "starter.json") {
		t.Errorf("Storage.StarterFile = %v, want resolved next to config", cfg.Storage.StarterFile)
	}
	if cfg.API.ListenAddr != ":9080" || cfg.API.APIKey != "test-api-key" {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.API.ReadTimeout != 5*time.Second {
		t.Errorf("API.ReadTimeout = %v, want 5s", cfg.API.ReadTimeout)
	}
	if cfg.Activation.DefaultMode != "all" || cfg.Activation.DefaultMailbox != "ops@example.com" {
		t.Errorf("Activation = %+v", cfg.Activation)
	}
	if cfg.Activation.Quota.PerClient == nil || cfg.Activation.Quota.PerClient.PerHour != 10 {
		t.Errorf("Activation.Quota.PerClient = %+v", cfg.Activation.Quota.PerClient)
	}
	if !cfg.Activation.Quota.Enabled() {
		t.Error("quota should be enabled")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/internal/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Path != "/var/lib/autoreply/templates.db" {
		t.Errorf("Storage.Path = %v", cfg.Storage.Path)
	}
	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("API.ListenAddr = %v, want :8080", cfg.API.ListenAddr)
	}
	if cfg.API.MaxBodyBytes != 5<<20 {
		t.Errorf("API.MaxBodyBytes = %v, want 5MB", cfg.API.MaxBodyBytes)
	}
	if cfg.Activation.URL != "https://qiye.aliyun.com/" {
		t.Errorf("Activation.URL = %v", cfg.Activation.URL)
	}
	if cfg.Activation.Source != "katvr-autoreply-studio" {
		t.Errorf("Activation.Source = %v", cfg.Activation.Source)
	}
	if cfg.Activation.DefaultMode != "current" {
		t.Errorf("Activation.DefaultMode = %v", cfg.Activation.DefaultMode)
	}
	if cfg.Activation.Quota.Enabled() {
		t.Error("quota should be disabled by default")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Metrics.Enabled || cfg.Metrics.ListenAddr != ":9090" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv(EnvAPIKey, "env-key")
	os.Setenv(EnvStoragePath, "/data/env.db")
	os.Setenv(EnvLogLevel, "WARN")

	cfg, err := Load(writeConfig(t, "api:\n  api_key: file-key\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.APIKey != "env-key" {
		t.Errorf("API.APIKey = %v, want env-key", cfg.API.APIKey)
	}
	if cfg.Storage.Path != "/data/env.db" {
		t.Errorf("Storage.Path = %v", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %v, want warn", cfg.Logging.Level)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)

	cfgPath := writeConfig(t, "{}\n")
	dotenv := "AUTOREPLY_DEFAULT_MAILBOX=team@example.com\nAUTOREPLY_LISTEN_ADDR=:7070\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(cfgPath), ".env"), []byte(dotenv), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	// Real environment wins over .env
	os.Setenv(EnvListenAddr, ":6060")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Activation.DefaultMailbox != "team@example.com" {
		t.Errorf("Activation.DefaultMailbox = %v, want value from .env", cfg.Activation.DefaultMailbox)
	}
	if cfg.API.ListenAddr != ":6060" {
		t.Errorf("API.ListenAddr = %v, want :6060", cfg.API.ListenAddr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "invalid log level", mutate: func(c *Config) { c.Logging.Level = "invalid" }, wantErr: true},
		{name: "invalid log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "relative activation url", mutate: func(c *Config) { c.Activation.URL = "/activate" }, wantErr: true},
		{name: "non-http activation url", mutate: func(c *Config) { c.Activation.URL = "ftp://host/" }, wantErr: true},
		{name: "invalid mode", mutate: func(c *Config) { c.Activation.DefaultMode = "some" }, wantErr: true},
		{name: "invalid default mailbox", mutate: func(c *Config) { c.Activation.DefaultMailbox = "nobody" }, wantErr: true},
		{name: "invalid api allowed ip", mutate: func(c *Config) { c.API.AllowedIPs = []string{"10.0.0.300"} }, wantErr: true},
		{name: "invalid metrics allowed ip", mutate: func(c *Config) { c.Metrics.AllowedIPs = []string{"x/8"} }, wantErr: true},
		{name: "valid api key hash", mutate: func(c *Config) {
			c.API.APIKeyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
		}},
		{name: "plain api key hash", mutate: func(c *Config) { c.API.APIKeyHash = "secret" }, wantErr: true},
		{name: "negative body limit", mutate: func(c *Config) { c.API.MaxBodyBytes = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, `invalid: yaml: content: [`)); err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/autoreply/internal/email"
	"github.com/foxzi/autoreply/internal/ipfilter"
	"github.com/foxzi/autoreply/internal/ratelimit"
)

// Environment variables that override file values
const (
	EnvAPIKey         = "AUTOREPLY_API_KEY"
	EnvStoragePath    = "AUTOREPLY_STORAGE_PATH"
	EnvListenAddr     = "AUTOREPLY_LISTEN_ADDR"
	EnvDefaultMailbox = "AUTOREPLY_DEFAULT_MAILBOX"
	EnvActivationURL  = "AUTOREPLY_ACTIVATION_URL"
	EnvLogLevel       = "AUTOREPLY_LOG_LEVEL"
)

// Config represents the main configuration
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`
	Activation ActivationConfig `yaml:"activation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// StorageConfig contains template store settings
type StorageConfig struct {
	Path        string `yaml:"path"`
	StarterFile string `yaml:"starter_file"` // JSON seeded into an empty store and used by reset
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	APIKeyHash     string        `yaml:"api_key_hash"`     // bcrypt hash of the API key, checked instead of api_key
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`   // Max request body, bounds imports (default: 5MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access API (empty = allow all)
}

// ActivationConfig contains envelope and hand-off settings
type ActivationConfig struct {
	URL            string           `yaml:"url"`             // Page opened with the activation parameter
	Source         string           `yaml:"source"`          // Producer tag written into envelopes
	DefaultMailbox string           `yaml:"default_mailbox"` // Used when a request names no mailbox
	DefaultMode    string           `yaml:"default_mode"`    // current or all
	Quota          ratelimit.Config `yaml:"quota"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ListenAddr      string        `yaml:"listen_addr"`      // Default: :9090
	Path            string        `yaml:"path"`             // Default: /metrics
	CollectInterval time.Duration `yaml:"collect_interval"` // Default: 10s
	AllowedIPs      []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to scrape
}

// Load loads configuration from a YAML file. A .env file in the working
// directory or next to the config file is read first; variables already set
// in the environment win over it.
func Load(path string) (*Config, error) {
	loadEnvFiles(".env", filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Storage.StarterFile != "" && !filepath.IsAbs(cfg.Storage.StarterFile) {
		cfg.Storage.StarterFile = filepath.Join(filepath.Dir(path), cfg.Storage.StarterFile)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadEnvFiles(paths ...string) {
	seen := make(map[string]bool)
	var existing []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err == nil {
			existing = append(existing, abs)
		}
	}
	if len(existing) > 0 {
		_ = godotenv.Load(existing...)
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv(EnvStoragePath); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.API.ListenAddr = v
	}
	if v := os.Getenv(EnvDefaultMailbox); v != "" {
		c.Activation.DefaultMailbox = v
	}
	if v := os.Getenv(EnvActivationURL); v != "" {
		c.Activation.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/autoreply/templates.db"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 5 << 20 // 5 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Activation.URL == "" {
		c.Activation.URL = "https://qiye.aliyun.com/"
	}
	if c.Activation.Source == "" {
		c.Activation.Source = "katvr-autoreply-studio"
	}
	if c.Activation.DefaultMode == "" {
		c.Activation.DefaultMode = "current"
	}
	if c.Activation.Quota.FlushInterval == 0 {
		c.Activation.Quota.FlushInterval = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.CollectInterval == 0 {
		c.Metrics.CollectInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateActivation(); err != nil {
		return err
	}

	if _, err := ipfilter.Parse(c.API.AllowedIPs, nil); err != nil {
		return fmt.Errorf("invalid api.allowed_ips: %w", err)
	}
	if _, err := ipfilter.Parse(c.Metrics.AllowedIPs, nil); err != nil {
		return fmt.Errorf("invalid metrics.allowed_ips: %w", err)
	}

	if c.API.APIKeyHash != "" {
		if _, err := bcrypt.Cost([]byte(c.API.APIKeyHash)); err != nil {
			return fmt.Errorf("invalid api.api_key_hash: %w", err)
		}
	}

	if c.API.MaxBodyBytes < 0 {
		return fmt.Errorf("api.max_body_bytes must not be negative")
	}

	return nil
}

func (c *Config) validateActivation() error {
	a := c.Activation

	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("activation.url must be an absolute http(s) URL: %q", a.URL)
	}

	if a.DefaultMode != "current" && a.DefaultMode != "all" {
		return fmt.Errorf("invalid activation.default_mode: %s (must be current or all)", a.DefaultMode)
	}

	if a.DefaultMailbox != "" && !email.IsValidMailbox(a.DefaultMailbox) {
		return fmt.Errorf("activation.default_mailbox is not a valid address: %s", a.DefaultMailbox)
	}

	for name, q := range map[string]*ratelimit.Quota{
		"global":      a.Quota.Global,
		"per_client":  a.Quota.PerClient,
		"per_mailbox": a.Quota.PerMailbox,
	} {
		if q != nil && (q.PerHour < 0 || q.PerDay < 0) {
			return fmt.Errorf("activation.quota.%s limits must not be negative", name)
		}
	}

	return nil
}

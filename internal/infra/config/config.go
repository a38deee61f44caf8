package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"aichat/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	// Includes lists extra YAML files (globs allowed) merged before this file.
	Includes        []string                `yaml:"includes,omitempty"`
	Store           StoreConfig             `yaml:"store"`
	HTTP            HTTPConfig              `yaml:"http"`
	Providers       []domain.ProviderConfig `yaml:"providers"`
	DefaultProvider string                  `yaml:"default_provider"`
	DefaultModel    string                  `yaml:"default_model"`
	Settings        domain.Settings         `yaml:"settings"`
	Logger          LoggerConfig            `yaml:"logger"`
	Tracer          TracerConfig            `yaml:"tracer"`
}

// StoreConfig selects the local database.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	Path   string `yaml:"path"`   // sqlite file path
}

// HTTPConfig holds provider client settings.
type HTTPConfig struct {
	// ConnTimeout bounds connection establishment only.
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	// ResponseHeaderTimeout bounds the wait for response headers; 0 = none.
	ResponseHeaderTimeout time.Duration        `yaml:"response_header_timeout"`
	Pool                  PoolConfig           `yaml:"pool"`
	CircuitBreaker        CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit             RateLimitConfig      `yaml:"rate_limit"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig holds circuit breaker settings for provider hosts.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RateLimitConfig throttles outgoing requests; 0 disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // stdout, stderr, discard or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
	// Output is where the stdout exporter writes; a file path or "stderr".
	Output string `yaml:"output"`
	// SampleRatio in (0,1) samples that share of traces; anything else samples all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// defaultDataDir returns the persistent data directory under $HOME/.aichat.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".aichat")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(defaultDataDir(), "chat.db"),
		},
		HTTP: HTTPConfig{
			ConnTimeout: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Settings: domain.DefaultSettings(),
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: filepath.Join(defaultDataDir(), "aichat.log"),
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
			Output:   "stderr",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and resolves
// secrets. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := loadFile(cfg, path, data); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := ResolveSecrets(cfg, os.Getenv("AICHAT_CONFIG_KEY"), KeyringLookup); err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile unmarshals data onto cfg. Included files are merged first and the
// main file is applied again on top so its own values win.
func loadFile(cfg *Config, path string, data []byte) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Includes) == 0 {
		return nil
	}

	own := cfg.Providers
	cfg.Providers = nil
	m := &includeMerger{visited: map[string]bool{absPath: true}}
	if err := m.merge(cfg, filepath.Dir(absPath), 0); err != nil {
		return err
	}
	included := cfg.Providers
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config (second pass): %w", err)
	}
	cfg.Providers = mergeProviders(included, own)
	cfg.Includes = nil
	return nil
}

// mergeProviders appends override to base, replacing base entries that share
// an ID with an override entry.
func mergeProviders(base, override []domain.ProviderConfig) []domain.ProviderConfig {
	out := make([]domain.ProviderConfig, 0, len(base)+len(override))
	seen := make(map[string]bool, len(override))
	for _, p := range override {
		seen[p.ID] = true
	}
	for _, p := range base {
		if !seen[p.ID] {
			out = append(out, p)
		}
	}
	return append(out, override...)
}

// ApplyEnvOverrides maps AICHAT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AICHAT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("AICHAT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("AICHAT_DEFAULT_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
	if v := os.Getenv("AICHAT_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if v := os.Getenv("AICHAT_SYSTEM_PROMPT"); v != "" {
		cfg.Settings.SystemPrompt = v
	}
	if v := os.Getenv("AICHAT_ZDR"); v != "" {
		cfg.Settings.ZeroDataRetention = v == "true" || v == "1"
	}
	if v := os.Getenv("AICHAT_MAX_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Settings.MaxConversationHistory = n
		}
	}
	if v := os.Getenv("AICHAT_HTTP_CONN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HTTP.ConnTimeout = d
		}
	}
	if v := os.Getenv("AICHAT_HTTP_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.HTTP.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("AICHAT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AICHAT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AICHAT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AICHAT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	// Provider keys: AICHAT_PROVIDER_<ID>_API_KEY, e.g. AICHAT_PROVIDER_OPENROUTER_API_KEY.
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if v := os.Getenv("AICHAT_PROVIDER_" + envKey(p.ID) + "_API_KEY"); v != "" {
			p.APIKey = v
		}
	}
}

// envKey upper-cases an ID and replaces anything non-alphanumeric with '_'.
func envKey(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// validatePermissions checks the config file is not writable by others,
// since it may hold API keys.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// 0600 and 0644 are fine; group/other write is not.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

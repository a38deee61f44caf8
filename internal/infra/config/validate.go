package config

import (
	"fmt"
	"net/url"
	"strings"

	"aichat/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// Unwrap lets errors.Is match domain.ErrConfiguration.
func (v *ValidationError) Unwrap() error { return domain.ErrConfiguration }

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateStore(cfg, ve)
	validateHTTP(cfg, ve)
	validateProviders(cfg, ve)
	validateSettings(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateStore(cfg *Config, ve *ValidationError) {
	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.Path == "" {
			ve.Add("store.path is required for the sqlite driver")
		}
	case "memory":
	default:
		ve.Add("store.driver %q is not supported (sqlite, memory)", cfg.Store.Driver)
	}
}

func validateHTTP(cfg *Config, ve *ValidationError) {
	h := cfg.HTTP
	if h.ConnTimeout < 0 {
		ve.Add("http.conn_timeout must be >= 0")
	}
	if h.ResponseHeaderTimeout < 0 {
		ve.Add("http.response_header_timeout must be >= 0")
	}
	if h.Pool.MaxIdleConns < 0 || h.Pool.MaxIdleConnsPerHost < 0 || h.Pool.MaxConnsPerHost < 0 {
		ve.Add("http.pool limits must be >= 0")
	}
	if h.RateLimit.RequestsPerMinute < 0 {
		ve.Add("http.rate_limit.requests_per_minute must be >= 0")
	}
	if h.RateLimit.Burst < 0 {
		ve.Add("http.rate_limit.burst must be >= 0")
	}
}

var validProviderTypes = map[domain.ProviderType]bool{
	domain.ProviderOpenRouter: true,
	domain.ProviderOpenAI:     true,
	domain.ProviderCustom:     true,
}

func validateProviders(cfg *Config, ve *ValidationError) {
	ids := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		label := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			ve.Add("%s.id is required", label)
		} else {
			label = fmt.Sprintf("providers[%s]", p.ID)
			if ids[p.ID] {
				ve.Add("%s: duplicate provider id", label)
			}
			ids[p.ID] = true
		}
		if !validProviderTypes[p.Type] {
			ve.Add("%s.type %q is not supported (openrouter, openai, custom)", label, p.Type)
		}
		if p.Type == domain.ProviderCustom && p.BaseURL == "" {
			ve.Add("%s.base_url is required for custom providers", label)
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				ve.Add("%s.base_url %q is not an absolute URL", label, p.BaseURL)
			}
		}
	}
	if cfg.DefaultProvider != "" && len(cfg.Providers) > 0 && !ids[cfg.DefaultProvider] {
		ve.Add("default_provider %q does not match any provider id", cfg.DefaultProvider)
	}
}

func validateSettings(cfg *Config, ve *ValidationError) {
	s := cfg.Settings
	if s.MaxConversationHistory < 0 {
		ve.Add("settings.max_conversation_history must be >= 0")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		ve.Add("settings.temperature must be between 0 and 2")
	}
	if s.MaxTokens < 0 {
		ve.Add("settings.max_tokens must be >= 0")
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[cfg.Logger.Level] {
		ve.Add("logger.level %q is not valid (debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is not valid (text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is not valid (stdout, noop)", cfg.Tracer.Exporter)
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio must be between 0 and 1, got %g", r)
	}
}

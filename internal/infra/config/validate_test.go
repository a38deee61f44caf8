package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat/internal/domain"
)

func validationErrors(t *testing.T, cfg *Config) []string {
	t.Helper()
	err := Validate(cfg)
	if err == nil {
		return nil
	}
	ve, ok := err.(*ValidationError)
	require.True(t, ok, "want *ValidationError, got %T", err)
	return ve.Errors
}

func hasError(errs []string, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestValidateStore(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "postgres"
	assert.True(t, hasError(validationErrors(t, cfg), "store.driver"))

	cfg = Defaults()
	cfg.Store.Path = ""
	assert.True(t, hasError(validationErrors(t, cfg), "store.path"))

	cfg = Defaults()
	cfg.Store = StoreConfig{Driver: "memory"}
	assert.Empty(t, validationErrors(t, cfg))
}

func TestValidateProviders(t *testing.T) {
	tests := []struct {
		name      string
		providers []domain.ProviderConfig
		want      string
	}{
		{"missing id", []domain.ProviderConfig{{Type: domain.ProviderOpenAI}}, ".id is required"},
		{"bad type", []domain.ProviderConfig{{ID: "a", Type: "gemini"}}, "not supported"},
		{"duplicate", []domain.ProviderConfig{{ID: "a", Type: domain.ProviderOpenAI}, {ID: "a", Type: domain.ProviderOpenAI}}, "duplicate"},
		{"custom without url", []domain.ProviderConfig{{ID: "c", Type: domain.ProviderCustom}}, "base_url is required"},
		{"relative url", []domain.ProviderConfig{{ID: "c", Type: domain.ProviderCustom, BaseURL: "localhost/v1"}}, "not an absolute URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Providers = tt.providers
			errs := validationErrors(t, cfg)
			assert.True(t, hasError(errs, tt.want), "errors %v should mention %q", errs, tt.want)
		})
	}
}

func TestValidateDefaultProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Providers = []domain.ProviderConfig{{ID: "or", Type: domain.ProviderOpenRouter}}
	cfg.DefaultProvider = "oa"
	assert.True(t, hasError(validationErrors(t, cfg), "default_provider"))

	cfg.DefaultProvider = "or"
	assert.Empty(t, validationErrors(t, cfg))
}

func TestValidateSettingsAndLogger(t *testing.T) {
	cfg := Defaults()
	cfg.Settings.Temperature = 3
	cfg.Settings.MaxConversationHistory = -1
	cfg.Logger.Level = "trace"
	cfg.Logger.Format = "xml"
	cfg.Tracer = TracerConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 2}

	errs := validationErrors(t, cfg)
	assert.True(t, hasError(errs, "temperature"))
	assert.True(t, hasError(errs, "max_conversation_history"))
	assert.True(t, hasError(errs, "logger.level"))
	assert.True(t, hasError(errs, "logger.format"))
	assert.True(t, hasError(errs, "tracer.exporter"))
	assert.True(t, hasError(errs, "tracer.sample_ratio"))
}

func TestValidationErrorFormatting(t *testing.T) {
	ve := &ValidationError{}
	assert.False(t, ve.HasErrors())
	ve.Add("first %d", 1)
	ve.Add("second")
	assert.True(t, ve.HasErrors())
	assert.Equal(t, "config validation failed:\n  - first 1\n  - second", ve.Error())
	assert.ErrorIs(t, ve, domain.ErrConfiguration)
}

// Package provider maps provider configurations to chat-completions requests
// and executes them.
package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"aichat/internal/domain"
)

// Factory is the default domain.AdapterFactory.
type Factory struct{}

// Adapter implements domain.AdapterFactory.
func (Factory) Adapter(cfg *domain.ProviderConfig) (domain.ProviderAdapter, error) {
	return New(cfg)
}

// New returns the adapter variant for cfg.Type. This is the only place that
// dispatches on the provider type.
func New(cfg *domain.ProviderConfig) (domain.ProviderAdapter, error) {
	if cfg == nil {
		return nil, domain.NewDomainError("provider.New", domain.ErrConfiguration,
			"No provider selected. Please select a provider in the settings.")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.NewDomainError("provider.New", domain.ErrConfiguration,
			"No auth credentials found. Please configure your API key in the provider settings.")
	}

	switch cfg.Type {
	case domain.ProviderOpenRouter:
		return &OpenRouter{base: newBase(cfg, openRouterBaseURL)}, nil
	case domain.ProviderOpenAI:
		baseURL := cfg.BaseURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = openAIBaseURL
		}
		return &OpenAI{base: newBase(cfg, baseURL)}, nil
	case domain.ProviderCustom:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, domain.NewDomainError("provider.New", domain.ErrConfiguration,
				fmt.Sprintf("Provider %q needs a base URL.", cfg.Name))
		}
		return &Custom{base: newBase(cfg, cfg.BaseURL)}, nil
	default:
		return nil, domain.NewDomainError("provider.New", domain.ErrConfiguration,
			fmt.Sprintf("Unsupported provider type: %s", cfg.Type))
	}
}

// base holds what every variant needs to build a request.
type base struct {
	baseURL string
	apiKey  string
	headers map[string]string
}

func newBase(cfg *domain.ProviderConfig, baseURL string) base {
	headers := make(map[string]string, len(cfg.DefaultHeaders))
	for k, v := range cfg.DefaultHeaders {
		headers[k] = v
	}
	return base{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		headers: headers,
	}
}

// chatRequest is the chat-completions wire body.
type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Stream      bool                 `json:"stream"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Provider    *providerPrefs       `json:"provider,omitempty"`
}

// providerPrefs is the OpenRouter provider routing block.
type providerPrefs struct {
	ZDR bool `json:"zdr"`
}

// build assembles the request shared by all variants. extra may set
// variant-specific body fields before marshaling.
func (b base) build(model string, messages []domain.ChatMessage, opts domain.RequestOptions, extra func(*chatRequest)) (*domain.HTTPRequest, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, domain.NewDomainError("provider.BuildRequest", domain.ErrConfiguration,
			"No model selected. Please select a model.")
	}
	if b.apiKey == "" {
		return nil, domain.NewDomainError("provider.BuildRequest", domain.ErrConfiguration,
			"No auth credentials found. Please configure your API key in the provider settings.")
	}

	body := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		body.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		body.MaxTokens = opts.MaxTokens
	}
	if extra != nil {
		extra(&body)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	return &domain.HTTPRequest{
		URL:    b.baseURL + "/chat/completions",
		Header: b.header(),
		Body:   data,
	}, nil
}

// header merges provider defaults under the mandatory headers. Defaults that
// collide with Authorization or Content-Type are dropped.
func (b base) header() http.Header {
	h := make(http.Header, len(b.headers)+3)
	for k, v := range b.headers {
		if v == "" {
			continue
		}
		h.Set(k, v)
	}
	h.Set("Authorization", "Bearer "+b.apiKey)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "text/event-stream")
	return h
}

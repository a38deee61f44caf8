package provider

import (
	"aichat/internal/domain"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Compile-time interface assertions.
var (
	_ domain.ProviderAdapter = (*OpenRouter)(nil)
	_ domain.ProviderAdapter = (*OpenAI)(nil)
	_ domain.ProviderAdapter = (*Custom)(nil)
	_ domain.AdapterFactory  = Factory{}
)

// OpenRouter targets the fixed OpenRouter endpoint. It identifies the client
// with X-Title unless the provider configures its own, and forwards the zero
// data retention preference.
type OpenRouter struct {
	base
}

// BuildRequest implements domain.ProviderAdapter.
func (p *OpenRouter) BuildRequest(model string, messages []domain.ChatMessage, opts domain.RequestOptions) (*domain.HTTPRequest, error) {
	req, err := p.build(model, messages, opts, func(body *chatRequest) {
		if opts.ZeroDataRetention {
			body.Provider = &providerPrefs{ZDR: true}
		}
	})
	if err != nil {
		return nil, err
	}
	if req.Header.Get("X-Title") == "" {
		req.Header.Set("X-Title", "aichat")
	}
	return req, nil
}

// Type implements domain.ProviderAdapter.
func (p *OpenRouter) Type() domain.ProviderType { return domain.ProviderOpenRouter }

package provider

import (
	"aichat/internal/domain"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAI targets api.openai.com or a configured override.
type OpenAI struct {
	base
}

// BuildRequest implements domain.ProviderAdapter.
func (p *OpenAI) BuildRequest(model string, messages []domain.ChatMessage, opts domain.RequestOptions) (*domain.HTTPRequest, error) {
	return p.build(model, messages, opts, nil)
}

// Type implements domain.ProviderAdapter.
func (p *OpenAI) Type() domain.ProviderType { return domain.ProviderOpenAI }

// Custom targets any OpenAI-compatible endpoint. The base URL is mandatory.
type Custom struct {
	base
}

// BuildRequest implements domain.ProviderAdapter.
func (p *Custom) BuildRequest(model string, messages []domain.ChatMessage, opts domain.RequestOptions) (*domain.HTTPRequest, error) {
	return p.build(model, messages, opts, nil)
}

// Type implements domain.ProviderAdapter.
func (p *Custom) Type() domain.ProviderType { return domain.ProviderCustom }

package domain

import (
	"encoding/json"
	"net/http"
)

// ProviderType selects the adapter variant used for a provider.
type ProviderType string

const (
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderOpenAI     ProviderType = "openai"
	ProviderCustom     ProviderType = "custom"
)

// Model describes a model offered by a provider.
type Model struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name,omitempty" yaml:"name,omitempty"`
	DisplayName   string  `json:"displayName,omitempty" yaml:"display_name,omitempty"`
	InputCost     float64 `json:"inputCost,omitempty" yaml:"input_cost,omitempty"`   // per 1M tokens
	OutputCost    float64 `json:"outputCost,omitempty" yaml:"output_cost,omitempty"` // per 1M tokens
	ContextLength int     `json:"contextLength,omitempty" yaml:"context_length,omitempty"`
	IsFree        bool    `json:"isFree,omitempty" yaml:"is_free,omitempty"`
}

// ProviderConfig is a user-configured LLM endpoint.
type ProviderConfig struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Type           ProviderType      `json:"type" yaml:"type"`
	APIKey         string            `json:"apiKey" yaml:"api_key"`
	BaseURL        string            `json:"baseURL,omitempty" yaml:"base_url,omitempty"`
	DefaultHeaders map[string]string `json:"defaultHeaders,omitempty" yaml:"default_headers,omitempty"`
	SelectedModels []Model           `json:"selectedModels,omitempty" yaml:"models,omitempty"`
}

// FindModel returns the provider's model with the given ID.
func (p ProviderConfig) FindModel(id string) (Model, bool) {
	for _, m := range p.SelectedModels {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// ContentPart is one element of a multi-part chat message.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps a (data) URL for image_url parts.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatMessage is a message as sent to a chat-completions endpoint. Content is
// encoded as a plain string unless Parts is set.
type ChatMessage struct {
	Role  string
	Text  string
	Parts []ContentPart
}

// MarshalJSON encodes content as a string or as an array of parts.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Text})
}

// NewUserChatMessage builds a user chat message, adding image_url parts for
// every attached image.
func NewUserChatMessage(text string, images []Image) ChatMessage {
	if len(images) == 0 {
		return ChatMessage{Role: RoleUser, Text: text}
	}
	parts := make([]ContentPart, 0, len(images)+1)
	parts = append(parts, ContentPart{Type: "text", Text: text})
	for _, img := range images {
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: img.DataURI()}})
	}
	return ChatMessage{Role: RoleUser, Parts: parts}
}

// RequestOptions carries per-request settings that influence the body.
type RequestOptions struct {
	Temperature       float64
	MaxTokens         int
	ZeroDataRetention bool
}

// HTTPRequest is a fully resolved chat-completions call.
type HTTPRequest struct {
	URL    string
	Header http.Header
	Body   []byte
}

// ProviderAdapter maps a provider to a concrete chat-completions request.
// Implementations are pure: no I/O, no retries.
type ProviderAdapter interface {
	BuildRequest(model string, messages []ChatMessage, opts RequestOptions) (*HTTPRequest, error)
	// Type returns the adapter variant.
	Type() ProviderType
}

// AdapterFactory resolves the adapter for a provider configuration.
type AdapterFactory interface {
	Adapter(cfg *ProviderConfig) (ProviderAdapter, error)
}

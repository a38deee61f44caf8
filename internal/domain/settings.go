package domain

// Settings are user preferences that shape outgoing requests.
type Settings struct {
	SystemPrompt           string  `json:"defaultSystemPrompt" yaml:"system_prompt"`
	MaxConversationHistory int     `json:"maxConversationHistory" yaml:"max_conversation_history"`
	Temperature            float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens              int     `json:"maxTokens,omitempty" yaml:"max_tokens,omitempty"`
	ZeroDataRetention      bool    `json:"zeroDataRetention,omitempty" yaml:"zero_data_retention,omitempty"`
}

// DefaultSettings returns the settings used until the user changes them.
func DefaultSettings() Settings {
	return Settings{
		SystemPrompt:           "You are a helpful AI assistant.",
		MaxConversationHistory: 100,
	}
}

// RequestOptions derives the per-request options from the settings.
func (s Settings) RequestOptions() RequestOptions {
	return RequestOptions{
		Temperature:       s.Temperature,
		MaxTokens:         s.MaxTokens,
		ZeroDataRetention: s.ZeroDataRetention,
	}
}

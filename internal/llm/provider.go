// Package llm holds the chat-completion backends used by the local pipeline.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when a provider is used without its credential.
var ErrNotConfigured = errors.New("llm provider not configured")

// Provider is a chat-completion backend.
type Provider interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Name() string
	// Available reports whether the provider has what it needs to be called.
	Available() bool
}

// ChatRequest is one completion call. Zero values fall back to the
// provider's configured model, token limit and temperature.
type ChatRequest struct {
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
}

// Message is a single conversation entry. Role is user, assistant or system.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the provider-neutral completion result.
type ChatResponse struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	TokensUsed       int           `json:"tokens_used,omitempty"`
	Duration         time.Duration `json:"duration"`
	FinishReason     string        `json:"finish_reason,omitempty"`
}

// ProviderConfig configures a single provider instance.
type ProviderConfig struct {
	Name        string
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

var providerDefaults = map[string]ProviderConfig{
	"openai": {Endpoint: "https://api.openai.com/v1", Model: "gpt-4o-mini", Timeout: 2 * time.Minute},
	"ollama": {Endpoint: "http://127.0.0.1:11434", Model: "llama3.2", Timeout: 5 * time.Minute},
}

// DefaultConfig returns defaults for the named provider. Unknown names get
// only the generic limits.
func DefaultConfig(name string) *ProviderConfig {
	cfg := providerDefaults[name]
	cfg.Name = name
	cfg.MaxTokens = 4096
	cfg.Temperature = 0.7
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &cfg
}

// withDefaults fills every zero field of cfg from the provider defaults.
func withDefaults(cfg *ProviderConfig, name string) *ProviderConfig {
	out := DefaultConfig(name)
	if cfg == nil {
		return out
	}
	merged := *cfg
	merged.Name = name
	if merged.Endpoint == "" {
		merged.Endpoint = out.Endpoint
	}
	if merged.Model == "" {
		merged.Model = out.Model
	}
	if merged.MaxTokens == 0 {
		merged.MaxTokens = out.MaxTokens
	}
	if merged.Temperature == 0 {
		merged.Temperature = out.Temperature
	}
	if merged.Timeout == 0 {
		merged.Timeout = out.Timeout
	}
	return &merged
}

// resolve returns the model, token limit and temperature for req.
func (c *ProviderConfig) resolve(req *ChatRequest) (model string, maxTokens int, temperature float64) {
	model, maxTokens, temperature = req.Model, req.MaxTokens, req.Temperature
	if model == "" {
		model = c.Model
	}
	if maxTokens == 0 {
		maxTokens = c.MaxTokens
	}
	if temperature == 0 {
		temperature = c.Temperature
	}
	return model, maxTokens, temperature
}

// conversation flattens the system prompt and messages into one slice.
func conversation(req *ChatRequest) []Message {
	out := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, Message{Role: "system", Content: req.SystemPrompt})
	}
	return append(out, req.Messages...)
}

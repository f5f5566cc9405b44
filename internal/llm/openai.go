package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAIProvider struct {
	cfg *ProviderConfig
	t   *httpTransport
}

func NewOpenAIProvider(cfg *ProviderConfig) *OpenAIProvider {
	c := withDefaults(cfg, "openai")
	return &OpenAIProvider{
		cfg: c,
		t: &httpTransport{
			provider: "openai",
			client:   &http.Client{Timeout: c.Timeout},
			headers:  map[string]string{"Authorization": "Bearer " + c.APIKey},
		},
	}
}

func (p *OpenAIProvider) Name() string { return p.cfg.Name }

func (p *OpenAIProvider) Available() bool { return p.cfg.APIKey != "" }

func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if !p.Available() {
		return nil, fmt.Errorf("openai: %w: API key not set", ErrNotConfigured)
	}

	started := time.Now()
	body := openAIChatRequest{Messages: conversation(req)}
	body.Model, body.MaxTokens, body.Temperature = p.cfg.resolve(req)

	var reply openAIChatResponse
	url := strings.TrimRight(p.cfg.Endpoint, "/") + "/chat/completions"
	if err := p.t.postJSON(ctx, url, body, &reply); err != nil {
		return nil, err
	}
	if len(reply.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}

	first := reply.Choices[0]
	return &ChatResponse{
		Content:          first.Message.Content,
		Model:            reply.Model,
		PromptTokens:     reply.Usage.PromptTokens,
		CompletionTokens: reply.Usage.CompletionTokens,
		TokensUsed:       reply.Usage.TotalTokens,
		Duration:         time.Since(started),
		FinishReason:     first.FinishReason,
	}, nil
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

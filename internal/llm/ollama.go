package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider calls a local Ollama server through the non-streaming
// /api/chat endpoint. No key is needed.
type OllamaProvider struct {
	cfg *ProviderConfig
	t   *httpTransport
}

func NewOllamaProvider(cfg *ProviderConfig) *OllamaProvider {
	c := withDefaults(cfg, "ollama")
	return &OllamaProvider{
		cfg: c,
		t:   &httpTransport{provider: "ollama", client: &http.Client{Timeout: c.Timeout}},
	}
}

func (p *OllamaProvider) Name() string { return p.cfg.Name }

func (p *OllamaProvider) Available() bool { return p.cfg.Endpoint != "" }

func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	started := time.Now()
	body := ollamaChatRequest{Messages: conversation(req)}
	body.Model, body.Options.NumPredict, body.Options.Temperature = p.cfg.resolve(req)

	var reply ollamaChatResponse
	url := strings.TrimRight(p.cfg.Endpoint, "/") + "/api/chat"
	if err := p.t.postJSON(ctx, url, body, &reply); err != nil {
		return nil, err
	}

	return &ChatResponse{
		Content:          reply.Message.Content,
		Model:            reply.Model,
		PromptTokens:     reply.PromptEvalCount,
		CompletionTokens: reply.EvalCount,
		TokensUsed:       reply.PromptEvalCount + reply.EvalCount,
		Duration:         time.Since(started),
		FinishReason:     "stop",
	}, nil
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature,omitempty"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

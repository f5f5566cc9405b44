package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/notionqa/internal/config"
)

func TestOpenAIProvider_Chat(t *testing.T) {
	var got openAIChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: "sk-test"})
	require.True(t, p.Available())
	assert.Equal(t, "openai", p.Name())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		SystemPrompt: "be brief",
		Messages:     []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, 13, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 0.0001)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestOpenAIProvider_NoKey(t *testing.T) {
	p := NewOpenAIProvider(&ProviderConfig{Endpoint: "http://unused.invalid"})
	assert.False(t, p.Available())

	_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestOpenAIProvider_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: "sk-test"})
	_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini","choices":[]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: "sk-test"})
	_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestOllamaProvider_Chat(t *testing.T) {
	var got ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"local answer"},"done":true,"prompt_eval_count":5,"eval_count":7}`))
	}))
	defer server.Close()

	p := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	require.True(t, p.Available())

	resp, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "local answer", resp.Content)
	assert.Equal(t, 12, resp.TokensUsed)

	assert.False(t, got.Stream)
	assert.Equal(t, "llama3.2", got.Model)
	assert.Equal(t, 4096, got.Options.NumPredict)
}

func TestNewProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")

	cfg := config.Default()
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.True(t, p.Available(), "API key should be picked up from OPENAI_API_KEY")

	cfg.LLM.DefaultProvider = "ollama"
	p, err = NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	cfg.LLM.DefaultProvider = "missing"
	_, err = NewProvider(cfg)
	require.Error(t, err)
}

func TestNewProvider_MaxTokens(t *testing.T) {
	cfg := config.Default()
	pc := cfg.LLM.Providers["openai"]
	pc.MaxTokens = 800
	cfg.LLM.Providers["openai"] = pc

	p, err := NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, 800, p.(*OpenAIProvider).cfg.MaxTokens)

	pc.MaxTokens = 0
	cfg.LLM.Providers["openai"] = pc
	p, err = NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4096, p.(*OpenAIProvider).cfg.MaxTokens, "zero falls back to the provider default")
}

func TestNewProviderByName_Unknown(t *testing.T) {
	_, err := NewProviderByName("anthropic", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestInstrument_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"ok"}}],"usage":{"prompt_tokens":2,"completion_tokens":1,"total_tokens":3}}`))
	}))
	defer server.Close()

	p := Instrument(NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: "sk-test"}), WithRetries(2, time.Millisecond))
	resp, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "openai", p.Name())
}

func TestInstrument_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	p := Instrument(NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: "sk-test"}), WithRetries(3, time.Millisecond))
	_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.False(t, apiErr.Retryable())
	assert.EqualValues(t, 1, calls.Load())
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig("ollama")
	assert.Equal(t, "http://127.0.0.1:11434", c.Endpoint)
	assert.Equal(t, 4096, c.MaxTokens)

	c = DefaultConfig("custom")
	assert.Empty(t, c.Endpoint)
	assert.Equal(t, 2*time.Minute, c.Timeout)
}

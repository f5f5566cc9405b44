package llm

import (
	"context"
	"errors"
	"time"

	"github.com/normanking/notionqa/internal/logging"
	"github.com/normanking/notionqa/internal/metrics"
)

// InstrumentedProvider wraps a Provider with Prometheus accounting and a
// bounded retry on rate limits and server faults.
type InstrumentedProvider struct {
	Provider
	retries int
	backoff time.Duration
	log     *logging.Logger
}

// InstrumentOption configures an InstrumentedProvider.
type InstrumentOption func(*InstrumentedProvider)

// WithRetries sets how many extra attempts a retryable failure gets.
func WithRetries(n int, backoff time.Duration) InstrumentOption {
	return func(p *InstrumentedProvider) {
		p.retries = n
		p.backoff = backoff
	}
}

func Instrument(p Provider, opts ...InstrumentOption) *InstrumentedProvider {
	ip := &InstrumentedProvider{
		Provider: p,
		retries:  2,
		backoff:  time.Second,
		log:      logging.Global().WithComponent("llm"),
	}
	for _, opt := range opts {
		opt(ip)
	}
	return ip
}

func (p *InstrumentedProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	name := p.Name()
	start := time.Now()

	var (
		resp *ChatResponse
		err  error
	)
	for attempt := 0; ; attempt++ {
		resp, err = p.Provider.Chat(ctx, req)
		if err == nil || attempt >= p.retries || !retryable(err) {
			break
		}
		wait := p.backoff << attempt
		p.log.Warn("%s call failed (attempt %d), retrying in %s: %v", name, attempt+1, wait, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	metrics.LLMLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMCalls.WithLabelValues(name, "error").Inc()
		return nil, err
	}
	metrics.LLMCalls.WithLabelValues(name, "ok").Inc()
	metrics.LLMTokens.WithLabelValues(name, "prompt").Add(float64(resp.PromptTokens))
	metrics.LLMTokens.WithLabelValues(name, "completion").Add(float64(resp.CompletionTokens))
	p.log.Debug("%s/%s answered in %s (%d tokens)", name, resp.Model, resp.Duration, resp.TokensUsed)
	return resp, nil
}

func retryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

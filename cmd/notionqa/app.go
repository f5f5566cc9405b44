package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/normanking/notionqa/internal/config"
	"github.com/normanking/notionqa/internal/execution"
	"github.com/normanking/notionqa/internal/history"
	"github.com/normanking/notionqa/internal/llm"
	"github.com/normanking/notionqa/internal/logging"
	"github.com/normanking/notionqa/internal/orchestrator"
	"github.com/normanking/notionqa/internal/pipeline"
	"github.com/normanking/notionqa/internal/tools"
	"github.com/normanking/notionqa/internal/workspace"
)

// errLocalUnavailable is returned by the local runner when credentials are missing.
var errLocalUnavailable = errors.New("local pipeline unavailable")

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	backend execution.Backend
	hist    *history.History
	store   *history.SQLiteStore
	mirror  *history.RedisMirror
	closers []func() error
	log     *logging.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logging.Global().WithComponent("app")}

	backend, err := execution.NewBackend(cfg.Remote, a.log)
	if err != nil {
		return nil, fmt.Errorf("execution backend: %w", err)
	}
	a.backend = backend
	if c, ok := backend.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	hist, err := a.openHistory(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.hist = hist
	a.orch = orchestrator.New(backend, newLocalRunner(cfg, a.log), hist,
		orchestrator.WithDefaultUnit(cfg.Remote.DefaultUnit),
		orchestrator.WithCallTimeout(cfg.Remote.Timeout),
	)
	return a, nil
}

// openHistory builds the conversation history with its configured sinks.
// Redis is best effort; a SQLite failure is fatal when persistence is enabled.
func (a *app) openHistory(ctx context.Context) (*history.History, error) {
	var opts []history.Option

	if a.cfg.History.Persist {
		store, err := history.OpenSQLite(a.cfg.History.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)

		turns, err := store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		a.log.Debug("loaded %d persisted turn(s)", len(turns))
		opts = append(opts, history.WithTurns(turns), history.WithSink(store))
	}

	if a.cfg.Redis.Enabled {
		mirror, err := history.NewRedisMirror(history.RedisConfig{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			Stream:   a.cfg.Redis.Stream,
			MaxLen:   a.cfg.Redis.MaxLen,
		})
		if err != nil {
			a.log.Warn("redis history mirror disabled: %v", err)
		} else {
			a.mirror = mirror
			a.closers = append(a.closers, mirror.Close)
			opts = append(opts, history.WithSink(mirror))
		}
	}

	return history.New(opts...), nil
}

// Close releases every resource in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close: %v", err)
		}
	}
	a.closers = nil
}

// newLocalRunner wires the three-stage pipeline. When the LLM key or the
// Notion token is missing, the returned runner fails every question with a
// configuration error naming what is missing.
func newLocalRunner(cfg *config.Config, log *logging.Logger) orchestrator.LocalRunner {
	var missing []string

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		missing = append(missing, err.Error())
	} else if !provider.Available() {
		missing = append(missing, fmt.Sprintf("%s API key (set OPENAI_API_KEY)", provider.Name()))
	}

	ws, err := workspace.NewNotionClient(workspace.Options{
		Token:    cfg.Notion.Token,
		Endpoint: cfg.Notion.Endpoint,
		Version:  cfg.Notion.Version,
		Timeout:  cfg.Notion.Timeout,
	})
	if err != nil {
		missing = append(missing, "Notion token (set NOTION_TOKEN)")
	}

	if len(missing) > 0 {
		reason := fmt.Errorf("%w: missing %s", errLocalUnavailable, strings.Join(missing, ", "))
		log.Warn("%v", reason)
		return orchestrator.LocalRunnerFunc(func(ctx context.Context, question string) (string, error) {
			return "", reason
		})
	}

	executor := tools.NewExecutor(tools.WithTimeout(cfg.Pipeline.ToolTimeout))
	if err := tools.RegisterWorkspaceTools(executor, ws); err != nil {
		reason := fmt.Errorf("%w: %v", errLocalUnavailable, err)
		return orchestrator.LocalRunnerFunc(func(ctx context.Context, question string) (string, error) {
			return "", reason
		})
	}

	pc := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
	return pipeline.New(llm.Instrument(provider), executor, pipeline.Config{
		RetrievalRounds: cfg.Pipeline.RetrievalRounds,
		SynthesisRounds: cfg.Pipeline.SynthesisRounds,
		Model:           pc.Model,
		Temperature:     pc.Temperature,
		MaxTokens:       pc.MaxTokens,
	})
}

// Package pipeline runs the local three-stage answering pipeline:
// coordination, retrieval and synthesis. Each stage's output is the input of
// the next; any failure aborts the run with a *StageError.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/notionqa/internal/llm"
	"github.com/normanking/notionqa/internal/logging"
	"github.com/normanking/notionqa/internal/metrics"
	"github.com/normanking/notionqa/internal/tools"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageCoordination Stage = "coordination"
	StageRetrieval    Stage = "retrieval"
	StageSynthesis    Stage = "synthesis"
)

// ErrEmptyOutput is wrapped in a StageError when a stage produces no text.
var ErrEmptyOutput = errors.New("stage produced no output")

// StageError reports which stage aborted the pipeline.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Config bounds the pipeline.
type Config struct {
	// RetrievalRounds is the maximum number of tool rounds in the retrieval stage.
	RetrievalRounds int
	// SynthesisRounds is the maximum number of model rounds in the synthesis stage.
	SynthesisRounds int
	// Model overrides the provider's default model.
	Model       string
	Temperature float64
	MaxTokens   int
}

// DefaultConfig returns the default round budgets.
func DefaultConfig() Config {
	return Config{
		RetrievalRounds: 3,
		SynthesisRounds: 2,
	}
}

// Runner executes the pipeline against an LLM provider and a tool executor.
type Runner struct {
	provider llm.Provider
	tools    *tools.Executor
	cfg      Config
	log      *logging.Logger
}

// New creates a Runner. Zero round budgets fall back to the defaults.
func New(provider llm.Provider, executor *tools.Executor, cfg Config) *Runner {
	d := DefaultConfig()
	if cfg.RetrievalRounds <= 0 {
		cfg.RetrievalRounds = d.RetrievalRounds
	}
	if cfg.SynthesisRounds <= 0 {
		cfg.SynthesisRounds = d.SynthesisRounds
	}
	if executor == nil {
		executor = tools.NewExecutor()
	}

	return &Runner{
		provider: provider,
		tools:    executor,
		cfg:      cfg,
		log:      logging.Global().WithComponent("pipeline"),
	}
}

// Run answers question through coordination, retrieval and synthesis.
func (r *Runner) Run(ctx context.Context, question string) (string, error) {
	defer r.log.Trace("pipeline.Run")()

	brief, err := r.stage(ctx, StageCoordination, func() (string, error) {
		return r.coordinate(ctx, question)
	})
	if err != nil {
		return "", err
	}

	findings, err := r.stage(ctx, StageRetrieval, func() (string, error) {
		return r.retrieve(ctx, brief)
	})
	if err != nil {
		return "", err
	}

	return r.stage(ctx, StageSynthesis, func() (string, error) {
		return r.synthesize(ctx, findings)
	})
}

// stage runs fn, records its duration and wraps any failure in a StageError.
func (r *Runner) stage(ctx context.Context, name Stage, fn func() (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &StageError{Stage: name, Err: err}
	}

	start := time.Now()
	out, err := fn()
	metrics.StageDuration.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())

	if err == nil && strings.TrimSpace(out) == "" {
		err = ErrEmptyOutput
	}
	if err != nil {
		r.log.WithField("stage", string(name)).Warn("stage failed after %v: %v", time.Since(start).Round(time.Millisecond), err)
		return "", &StageError{Stage: name, Err: err}
	}

	r.log.WithField("stage", string(name)).Debug("stage completed in %v (%d chars)", time.Since(start).Round(time.Millisecond), len(out))
	return strings.TrimSpace(out), nil
}

func (r *Runner) chat(ctx context.Context, system string, messages []llm.Message) (string, error) {
	resp, err := r.provider.Chat(ctx, &llm.ChatRequest{
		Model:        r.cfg.Model,
		SystemPrompt: system,
		Messages:     messages,
		MaxTokens:    r.cfg.MaxTokens,
		Temperature:  r.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// coordinate produces a research brief in a single round without tools.
func (r *Runner) coordinate(ctx context.Context, question string) (string, error) {
	out, err := r.chat(ctx, coordinatorPrompt, []llm.Message{
		{Role: "user", Content: coordinationTask(question)},
	})
	if err != nil {
		return "", err
	}
	_, cleaned := tools.ParseToolCalls(out)
	if cleaned == "" {
		return "", nil
	}
	return fmt.Sprintf("User question: %s\n\nResearch brief:\n%s", question, cleaned), nil
}

// retrieve runs up to RetrievalRounds tool rounds, then forces a summary.
func (r *Runner) retrieve(ctx context.Context, brief string) (string, error) {
	before := r.tools.Stats()
	defer func() {
		after := r.tools.Stats()
		if n := after.TotalExecutions - before.TotalExecutions; n > 0 {
			r.log.Debug("retrieval ran %d tool call(s), %d failed, %v in tools",
				n, after.FailureCount-before.FailureCount, (after.TotalDuration - before.TotalDuration).Round(time.Millisecond))
		}
	}()

	messages := []llm.Message{
		{Role: "user", Content: retrievalTask(brief, r.tools.Describe())},
	}

	for round := 1; round <= r.cfg.RetrievalRounds; round++ {
		out, err := r.chat(ctx, researcherPrompt, messages)
		if err != nil {
			return "", err
		}

		calls, prose := tools.ParseToolCalls(out)
		if len(calls) == 0 {
			return withFindings(brief, prose), nil
		}

		r.log.Debug("retrieval round %d: %d tool calls", round, len(calls))
		results, err := r.runTools(ctx, calls)
		if err != nil {
			return "", err
		}

		messages = append(messages,
			llm.Message{Role: "assistant", Content: out},
			llm.Message{Role: "user", Content: toolResultsMessage(results)},
		)
	}

	messages = append(messages, llm.Message{Role: "user", Content: forceSummary})
	out, err := r.chat(ctx, researcherPrompt, messages)
	if err != nil {
		return "", err
	}
	_, summary := tools.ParseToolCalls(out)
	return withFindings(brief, summary), nil
}

// withFindings carries the brief forward so synthesis still sees the question.
func withFindings(brief, summary string) string {
	if summary == "" {
		return ""
	}
	return fmt.Sprintf("%s\n\nResearch findings:\n%s", brief, summary)
}

// runTools executes calls in order and formats their outputs. The first
// failing call aborts the stage.
func (r *Runner) runTools(ctx context.Context, calls []*tools.ToolCall) (string, error) {
	var sb strings.Builder
	for _, call := range calls {
		result, err := r.tools.Execute(ctx, call.Request())
		if err == nil && result != nil && !result.Success {
			err = errors.New(result.Error)
		}
		if err != nil {
			metrics.ToolCalls.WithLabelValues(call.Name, "error").Inc()
			return "", fmt.Errorf("tool %s: %w", call.Name, err)
		}
		metrics.ToolCalls.WithLabelValues(call.Name, "ok").Inc()

		sb.WriteString(fmt.Sprintf("### %s\n%s\n\n", call.Name, result.Output))
	}
	return sb.String(), nil
}

// synthesize composes the final answer. Tool blocks are stripped and, while
// budget remains, trigger a refinement round.
func (r *Runner) synthesize(ctx context.Context, findings string) (string, error) {
	messages := []llm.Message{
		{Role: "user", Content: synthesisTask(findings)},
	}

	var answer string
	for round := 1; round <= r.cfg.SynthesisRounds; round++ {
		out, err := r.chat(ctx, specialistPrompt, messages)
		if err != nil {
			return "", err
		}

		calls, prose := tools.ParseToolCalls(out)
		answer = prose
		if len(calls) == 0 && prose != "" {
			return prose, nil
		}

		messages = append(messages,
			llm.Message{Role: "assistant", Content: out},
			llm.Message{Role: "user", Content: noToolsReminder},
		)
	}
	return answer, nil
}

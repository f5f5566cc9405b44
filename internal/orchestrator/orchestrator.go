// Package orchestrator dispatches questions either to the remote execution
// backend or to the local pipeline and always answers with an Envelope.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/normanking/notionqa/internal/execution"
	"github.com/normanking/notionqa/internal/history"
	"github.com/normanking/notionqa/internal/logging"
	"github.com/normanking/notionqa/internal/metrics"
)

const (
	// DefaultUnit is the remote unit targeted for questions.
	DefaultUnit = "notion_qa_crew"
	// DefaultCallTimeout bounds each backend call.
	DefaultCallTimeout = 30 * time.Second

	questionInput = "user_question"
)

// LocalRunner answers a question without the remote backend.
type LocalRunner interface {
	Run(ctx context.Context, question string) (string, error)
}

// LocalRunnerFunc adapts a function to LocalRunner.
type LocalRunnerFunc func(ctx context.Context, question string) (string, error)

// Run calls f.
func (f LocalRunnerFunc) Run(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDefaultUnit sets the unit id used on the remote path.
func WithDefaultUnit(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.defaultUnit = id
		}
	}
}

// WithCallTimeout bounds each backend call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l.WithComponent("orchestrator")
		}
	}
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	backend     execution.Backend
	local       LocalRunner
	history     *history.History
	defaultUnit string
	callTimeout time.Duration
	log         *logging.Logger
}

// New creates an Orchestrator. A nil hist gets a fresh in-memory History.
func New(backend execution.Backend, local LocalRunner, hist *history.History, opts ...Option) *Orchestrator {
	if hist == nil {
		hist = history.New()
	}
	o := &Orchestrator{
		backend:     backend,
		local:       local,
		history:     hist,
		defaultUnit: DefaultUnit,
		callTimeout: DefaultCallTimeout,
		log:         logging.Global().WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Backend returns the name of the active execution backend.
func (o *Orchestrator) Backend() string {
	if o.backend == nil {
		return "none"
	}
	return o.backend.Name()
}

// Answer records the question, produces an answer and never panics.
func (o *Orchestrator) Answer(ctx context.Context, question string, useRemote bool) (env Envelope) {
	start := time.Now()
	source := SourceLocal
	if useRemote {
		source = SourceRemote
	}

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("panic while answering: %v\n%s", r, debug.Stack())
			env = failed(source, fmt.Sprintf("internal error: %v", r))
		}
		outcome := "success"
		if !env.Success {
			outcome = "failure"
		}
		metrics.Answers.WithLabelValues(string(env.Source), outcome).Inc()
		metrics.AnswerLatency.WithLabelValues(string(env.Source)).Observe(time.Since(start).Seconds())
		metrics.HistoryTurns.Set(float64(o.history.Len()))
	}()

	o.history.Append(history.RoleUser, question)

	if useRemote {
		if remoteEnv, ok := o.answerRemote(ctx, question); ok {
			return remoteEnv
		}
		source = SourceLocal
	}
	return o.answerLocal(ctx, question)
}

func (o *Orchestrator) answerLocal(ctx context.Context, question string) Envelope {
	if o.local == nil {
		return failed(SourceLocal, "local pipeline is not configured")
	}

	answer, err := o.local.Run(ctx, question)
	if err != nil {
		o.log.Warn("local pipeline failed: %v", err)
		return failed(SourceLocal, fmt.Sprintf("local pipeline: %v", err))
	}

	o.history.Append(history.RoleAssistant, answer)
	return succeeded(SourceLocal, answer)
}

// answerRemote returns ok=false when discovery or dispatch failed and the
// caller should fall back to the local pipeline.
func (o *Orchestrator) answerRemote(ctx context.Context, question string) (Envelope, bool) {
	if o.backend == nil {
		o.fallback("no_backend", nil)
		return Envelope{}, false
	}

	units, err := o.listUnits(ctx)
	if err != nil {
		o.fallback("list_units", err)
		return Envelope{}, false
	}

	target := o.defaultUnit
	for _, u := range units {
		if u.ID == o.defaultUnit {
			target = u.ID
			break
		}
	}

	executionID, err := o.start(ctx, target, map[string]string{questionInput: question})
	if err != nil {
		o.fallback("start", err)
		return Envelope{}, false
	}

	log := o.log.WithFields(map[string]interface{}{"execution_id": executionID, "unit": target})
	log.Info("dispatched to %s backend", o.backend.Name())

	unit, err := o.poll(ctx, executionID)
	if err != nil {
		log.Warn("poll failed: %v", err)
		env := failed(SourceRemote, err.Error())
		env.ExecutionID = executionID
		return env, true
	}

	if unit.Status == execution.StatusFailed {
		msg := unit.Result
		if msg == "" {
			msg = "execution failed"
		}
		env := failed(SourceRemote, msg)
		env.ExecutionID = executionID
		env.Status = string(unit.Status)
		return env, true
	}

	if !unit.Status.Terminal() {
		log.Info("unit still %s after single poll", unit.Status)
	}

	result := unit.Result
	if result == "" {
		result = NoResult
	}
	o.history.Append(history.RoleAssistant, result)

	env := succeeded(SourceRemote, result)
	env.ExecutionID = executionID
	env.Status = string(unit.Status)
	return env, true
}

func (o *Orchestrator) fallback(reason string, err error) {
	metrics.Fallbacks.WithLabelValues(reason).Inc()
	if err != nil {
		o.log.WithField("reason", reason).Warn("remote unavailable, falling back to local pipeline: %v", err)
	} else {
		o.log.WithField("reason", reason).Warn("remote unavailable, falling back to local pipeline")
	}
}

func (o *Orchestrator) listUnits(ctx context.Context) ([]execution.UnitDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.backend.ListUnits(ctx)
}

func (o *Orchestrator) start(ctx context.Context, unitID string, inputs map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.backend.Start(ctx, unitID, inputs)
}

func (o *Orchestrator) poll(ctx context.Context, executionID string) (*execution.ExecutionUnit, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.backend.Poll(ctx, executionID)
}

// Status lists the backend's units to report connectivity.
func (o *Orchestrator) Status(ctx context.Context) Status {
	st := Status{Backend: o.Backend()}
	if o.backend == nil {
		st.Error = "no execution backend configured"
		return st
	}

	units, err := o.listUnits(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Connected = true
	st.Units = units
	if rec, ok := o.backend.(executionRecorder); ok {
		st.Recent = lastUnits(rec.Units(), recentLimit)
	}
	return st
}

// executionRecorder is implemented by backends that keep their executions
// in process, such as the simulator.
type executionRecorder interface {
	Units() []execution.ExecutionUnit
}

const recentLimit = 10

func lastUnits(units []execution.ExecutionUnit, n int) []execution.ExecutionUnit {
	if len(units) > n {
		return units[len(units)-n:]
	}
	return units
}

// History returns the conversation so far.
func (o *Orchestrator) History() []history.Turn {
	return o.history.Turns()
}

// ClearHistory removes every turn.
func (o *Orchestrator) ClearHistory() {
	o.history.Clear()
	metrics.HistoryTurns.Set(0)
}

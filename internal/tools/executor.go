package tools

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultToolTimeout = 30 * time.Second

// Executor holds the registered tools and runs requests against them under
// a per-call deadline.
type Executor struct {
	mu      sync.RWMutex
	tools   map[ToolType]Tool
	timeout time.Duration

	calls, succeeded, failed atomic.Int64
	busy                     atomic.Int64 // nanoseconds spent in tools
}

// StatsSnapshot summarises every Execute call made so far.
type StatsSnapshot struct {
	TotalExecutions int64         `json:"total_executions"`
	SuccessCount    int64         `json:"success_count"`
	FailureCount    int64         `json:"failure_count"`
	TotalDuration   time.Duration `json:"total_duration"`
}

type ExecutorOption func(*Executor)

// WithTimeout caps every tool call at d. Non-positive values are ignored.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{tools: map[ToolType]Tool{}, timeout: defaultToolTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Register(tool Tool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.tools[tool.Name()]; dup {
		return fmt.Errorf("tool %s already registered", tool.Name())
	}
	e.tools[tool.Name()] = tool
	return nil
}

func (e *Executor) GetTool(name ToolType) (Tool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tools[name]
	return t, ok
}

// Names lists the registered tools in lexical order.
func (e *Executor) Names() []ToolType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.tools))
}

// Execute validates req and runs it. A failed lookup or validation returns
// both an unsuccessful result and the error.
func (e *Executor) Execute(ctx context.Context, req *ToolRequest) (*ToolResult, error) {
	start := time.Now()
	reject := func(msg string, err error) (*ToolResult, error) {
		return &ToolResult{Tool: req.Tool, Error: msg, Duration: time.Since(start)}, err
	}

	tool, ok := e.GetTool(req.Tool)
	if !ok {
		err := fmt.Errorf("unknown tool: %s", req.Tool)
		return reject(err.Error(), err)
	}
	if err := tool.Validate(req); err != nil {
		return reject("validation failed: "+err.Error(), err)
	}

	limit := e.timeout
	if req.Timeout > 0 && req.Timeout < limit {
		limit = req.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	e.calls.Add(1)
	result, err := tool.Execute(callCtx, req)
	elapsed := time.Since(start)
	e.busy.Add(int64(elapsed))

	if err == nil && result != nil && result.Success {
		e.succeeded.Add(1)
	} else {
		e.failed.Add(1)
	}
	if result != nil {
		result.Duration = elapsed
	}
	return result, err
}

func (e *Executor) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalExecutions: e.calls.Load(),
		SuccessCount:    e.succeeded.Load(),
		FailureCount:    e.failed.Load(),
		TotalDuration:   time.Duration(e.busy.Load()),
	}
}

// Describe renders the tool catalogue and call syntax for a system prompt.
func (e *Executor) Describe() string {
	var b strings.Builder
	b.WriteString("## Available Tools\n\n")
	b.WriteString("Call a tool by writing it in your reply, one call per line:\n")
	b.WriteString("<tool>tool_name</tool><params>{\"param\": \"value\"}</params>\n\n")

	for _, name := range e.Names() {
		tool, _ := e.GetTool(name)
		fmt.Fprintf(&b, "### %s\n%s\nParameters:\n", name, tool.Description())
		for _, p := range tool.Parameters() {
			flag := ""
			if p.Required {
				flag = " (required)"
			}
			fmt.Fprintf(&b, "  - %s (%s)%s: %s\n", p.Name, p.Type, flag, p.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

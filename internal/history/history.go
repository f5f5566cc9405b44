// Package history holds the ordered conversation log of the orchestrator and
// forwards every change to optional persistence sinks.
package history

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/notionqa/internal/logging"
)

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives history changes. Errors are logged by History and never
// surface to callers of Append or Clear.
type Sink interface {
	Append(ctx context.Context, turn Turn) error
	Clear(ctx context.Context) error
}

// DefaultSinkTimeout bounds every sink call.
const DefaultSinkTimeout = 5 * time.Second

// Pruner is implemented by sinks that can drop old turns.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// History is an append-only, mutex-guarded list of turns.
type History struct {
	mu          sync.Mutex
	turns       []Turn
	sinks       []Sink
	sinkTimeout time.Duration
	now         func() time.Time
	log         *logging.Logger
}

// Option configures a History.
type Option func(*History)

// WithSink forwards appends and clears to s.
func WithSink(s Sink) Option {
	return func(h *History) {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
}

// WithTurns seeds the history, typically with turns loaded from a store.
func WithTurns(turns []Turn) Option {
	return func(h *History) {
		h.turns = append(h.turns, turns...)
	}
}

// WithSinkTimeout sets the deadline of each sink call.
func WithSinkTimeout(d time.Duration) Option {
	return func(h *History) {
		if d > 0 {
			h.sinkTimeout = d
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *History) {
		h.now = now
	}
}

// New creates an empty History.
func New(opts ...Option) *History {
	h := &History{
		sinkTimeout: DefaultSinkTimeout,
		now:         time.Now,
		log:         logging.Global().WithComponent("history"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Append records a turn and returns it.
func (h *History) Append(role Role, content string) Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	turn := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: h.now().UTC(),
	}
	h.turns = append(h.turns, turn)

	// Sinks are called under the lock so they observe the same order as Turns.
	for _, s := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.sinkTimeout)
		if err := s.Append(ctx, turn); err != nil {
			h.log.Warn("sink append failed: %v", err)
		}
		cancel()
	}
	return turn
}

// Turns returns a copy of all turns in append order.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Clear removes every turn.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = nil
	for _, s := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.sinkTimeout)
		if err := s.Clear(ctx); err != nil {
			h.log.Warn("sink clear failed: %v", err)
		}
		cancel()
	}
}

// Prune drops turns older than cutoff from memory and from every sink that
// implements Pruner. It returns the number of persisted turns removed, or the
// in-memory count when no sink prunes.
func (h *History) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	h.mu.Lock()
	before := len(h.turns)
	h.turns = slices.DeleteFunc(h.turns, func(t Turn) bool { return t.Timestamp.Before(cutoff) })
	removed := int64(before - len(h.turns))
	sinks := slices.Clone(h.sinks)
	h.mu.Unlock()

	pruned, persisted := int64(0), false
	for _, s := range sinks {
		p, ok := s.(Pruner)
		if !ok {
			continue
		}
		n, err := p.Prune(ctx, cutoff)
		if err != nil {
			return removed, err
		}
		pruned += n
		persisted = true
	}
	if persisted {
		return pruned, nil
	}
	return removed, nil
}

// Package execution talks to the managed multi-agent runtime that answers
// questions remotely. A Backend lists the available units, starts an
// execution and reports its status; the Simulator stands in when no remote
// credential is configured.
package execution

import (
	"context"
	"strings"

	"github.com/normanking/notionqa/internal/config"
	"github.com/normanking/notionqa/internal/logging"
)

// Status is the lifecycle state of an execution unit.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus maps a service status string to a Status, case-insensitively.
// Unrecognized values are treated as Running.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "started":
		return StatusPending
	case "running", "in_progress":
		return StatusRunning
	case "completed", "success":
		return StatusCompleted
	case "failed", "error":
		return StatusFailed
	default:
		return StatusRunning
	}
}

// UnitDescriptor describes a unit the backend can run.
type UnitDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ExecutionUnit is one dispatched run of a unit.
type ExecutionUnit struct {
	ID     string            `json:"id"`
	Target string            `json:"target"`
	Inputs map[string]string `json:"inputs,omitempty"`
	Status Status            `json:"status"`
	Result string            `json:"result,omitempty"`
}

// Backend is the capability interface shared by the remote clients and the simulator.
type Backend interface {
	// ListUnits returns the units available for dispatch.
	ListUnits(ctx context.Context) ([]UnitDescriptor, error)

	// Start dispatches inputs to unitID and returns the execution id.
	Start(ctx context.Context, unitID string, inputs map[string]string) (string, error)

	// Poll reports the current state of an execution.
	Poll(ctx context.Context, executionID string) (*ExecutionUnit, error)

	// Name identifies the backend variant.
	Name() string
}

// NewBackend selects the backend for cfg. Without a usable token the
// in-memory Simulator is returned.
func NewBackend(cfg config.RemoteConfig, log *logging.Logger) (Backend, error) {
	if log == nil {
		log = logging.Global()
	}
	log = log.WithComponent("execution")

	if !cfg.HasCredential() {
		log.Info("no remote credential configured, using simulator")
		return NewSimulator(), nil
	}

	switch cfg.Transport {
	case "", "crewai":
		log.Info("using CrewAI remote backend at %s", cfg.URL)
		return NewRemoteClient(cfg)
	case "a2a":
		log.Info("using A2A remote backend at %s", cfg.URL)
		return NewA2ABackend(cfg)
	default:
		return nil, newError(KindConfig, "new_backend", "unknown transport %q", cfg.Transport)
	}
}

package execution

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// SimulatedResult is the result text of every simulated execution.
const SimulatedResult = "Task completed successfully (simulated)"

var simulatedUnits = []UnitDescriptor{
	{
		ID:          "notion_qa_crew",
		Name:        "Notion Q&A Crew",
		Description: "A crew specialized in answering questions about Notion content",
	},
	{
		ID:          "research_crew",
		Name:        "Research Crew",
		Description: "A crew that can research and analyze information",
	},
}

// Simulator is an in-memory Backend for development without a remote
// service. An execution completes on its first poll.
type Simulator struct {
	mu      sync.Mutex
	counter int
	units   map[string]*ExecutionUnit
}

// NewSimulator creates an empty simulator.
func NewSimulator() *Simulator {
	return &Simulator{units: make(map[string]*ExecutionUnit)}
}

// Name identifies the backend.
func (s *Simulator) Name() string {
	return "simulator"
}

// ListUnits returns the fixed simulated catalogue.
func (s *Simulator) ListUnits(ctx context.Context) ([]UnitDescriptor, error) {
	out := make([]UnitDescriptor, len(simulatedUnits))
	copy(out, simulatedUnits)
	return out, nil
}

// Start records a Running unit under the next exec_N id.
func (s *Simulator) Start(ctx context.Context, unitID string, inputs map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id := fmt.Sprintf("exec_%d", s.counter)

	copied := make(map[string]string, len(inputs))
	for k, v := range inputs {
		copied[k] = v
	}
	s.units[id] = &ExecutionUnit{
		ID:     id,
		Target: unitID,
		Inputs: copied,
		Status: StatusRunning,
	}
	return id, nil
}

// Poll completes a Running unit and returns a copy of its state.
func (s *Simulator) Poll(ctx context.Context, executionID string) (*ExecutionUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unit, ok := s.units[executionID]
	if !ok {
		return nil, newError(KindNotFound, "poll", "execution %s not found", executionID)
	}
	if unit.Status == StatusRunning {
		unit.Status = StatusCompleted
		unit.Result = SimulatedResult
	}
	return cloneUnit(unit), nil
}

// Units returns a snapshot of every recorded execution ordered by id number.
func (s *Simulator) Units() []ExecutionUnit {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ExecutionUnit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, *cloneUnit(u))
	}
	sort.Slice(out, func(i, j int) bool {
		return execNumber(out[i].ID) < execNumber(out[j].ID)
	})
	return out
}

func cloneUnit(u *ExecutionUnit) *ExecutionUnit {
	c := *u
	c.Inputs = make(map[string]string, len(u.Inputs))
	for k, v := range u.Inputs {
		c.Inputs[k] = v
	}
	return &c
}

func execNumber(id string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(id, "exec_"))
	return n
}

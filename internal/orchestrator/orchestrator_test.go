package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/normanking/notionqa/internal/execution"
	"github.com/normanking/notionqa/internal/history"
	"github.com/normanking/notionqa/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBackend lets each operation be scripted independently.
type fakeBackend struct {
	mu       sync.Mutex
	units    []execution.UnitDescriptor
	listErr  error
	startErr error
	pollErr  error
	unit     *execution.ExecutionUnit
	panicOn  string

	startedUnit   string
	startedInputs map[string]string
	polls         int
	sawDeadline   bool
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) ListUnits(ctx context.Context) ([]execution.UnitDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.sawDeadline = ctx.Deadline()
	if f.panicOn == "list" {
		panic("catalog exploded")
	}
	return f.units, f.listErr
}

func (f *fakeBackend) Start(ctx context.Context, unitID string, inputs map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startedUnit = unitID
	f.startedInputs = inputs
	if f.startErr != nil {
		return "", f.startErr
	}
	return "run-1", nil
}

func (f *fakeBackend) Poll(ctx context.Context, executionID string) (*execution.ExecutionUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return f.unit, nil
}

func echoRunner() LocalRunner {
	return LocalRunnerFunc(func(ctx context.Context, q string) (string, error) {
		return "local answer to: " + q, nil
	})
}

func assertEnvelopeShape(t *testing.T, env Envelope) {
	t.Helper()
	if env.Success {
		assert.NotEmpty(t, env.Answer, "success must carry an answer")
		assert.Empty(t, env.Error, "success must not carry an error")
	} else {
		assert.NotEmpty(t, env.Error, "failure must carry an error")
		assert.Empty(t, env.Answer, "failure must not carry an answer")
	}
}

func roles(turns []history.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = string(t.Role) + ":" + t.Content
	}
	return out
}

func TestAnswer_LocalPath(t *testing.T) {
	backend := &fakeBackend{}
	o := New(backend, echoRunner(), nil)

	env := o.Answer(context.Background(), "What is the roadmap?", false)
	assertEnvelopeShape(t, env)
	assert.Equal(t, Envelope{Success: true, Answer: "local answer to: What is the roadmap?", Source: SourceLocal}, env)
	assert.Equal(t, 0, backend.polls, "local path never touches the backend")
}

func TestAnswer_EndToEndWithSimulator(t *testing.T) {
	sim := execution.NewSimulator()
	o := New(sim, echoRunner(), nil)

	env := o.Answer(context.Background(), "What is the roadmap?", true)
	assertEnvelopeShape(t, env)
	assert.Equal(t, Envelope{
		Success:     true,
		Answer:      execution.SimulatedResult,
		Source:      SourceRemote,
		ExecutionID: "exec_1",
		Status:      string(execution.StatusCompleted),
	}, env)

	units := sim.Units()
	require.Len(t, units, 1)
	assert.Equal(t, "notion_qa_crew", units[0].Target)
	assert.Equal(t, map[string]string{"user_question": "What is the roadmap?"}, units[0].Inputs)

	assert.Equal(t, []string{
		"user:What is the roadmap?",
		"assistant:" + execution.SimulatedResult,
	}, roles(o.History()))
}

func TestAnswer_ListFailureFallsBackLikeLocal(t *testing.T) {
	remote := New(&fakeBackend{listErr: execution.ErrUnreachable}, echoRunner(), nil)
	local := New(&fakeBackend{}, echoRunner(), nil)

	viaRemote := remote.Answer(context.Background(), "q", true)
	viaLocal := local.Answer(context.Background(), "q", false)

	assert.Equal(t, viaLocal, viaRemote)
	assert.Equal(t, roles(local.History()), roles(remote.History()))
}

func TestAnswer_StartFailureFallsBack(t *testing.T) {
	backend := &fakeBackend{
		units:    []execution.UnitDescriptor{{ID: "notion_qa_crew"}},
		startErr: &execution.Error{Kind: execution.KindAuth, Op: "start", Message: "denied"},
	}
	o := New(backend, echoRunner(), nil)

	env := o.Answer(context.Background(), "q", true)
	assertEnvelopeShape(t, env)
	assert.True(t, env.Success)
	assert.Equal(t, SourceLocal, env.Source)
	assert.Empty(t, env.ExecutionID)
	assert.Equal(t, 0, backend.polls)
}

func TestAnswer_TargetSelection(t *testing.T) {
	tests := []struct {
		name  string
		units []execution.UnitDescriptor
		opts  []Option
		want  string
	}{
		{"present in catalog", []execution.UnitDescriptor{{ID: "research_crew"}, {ID: "notion_qa_crew"}}, nil, "notion_qa_crew"},
		{"absent from catalog", []execution.UnitDescriptor{{ID: "research_crew"}}, nil, "notion_qa_crew"},
		{"empty catalog", nil, nil, "notion_qa_crew"},
		{"configured unit", nil, []Option{WithDefaultUnit("support_crew")}, "support_crew"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{
				units: tt.units,
				unit:  &execution.ExecutionUnit{ID: "run-1", Status: execution.StatusCompleted, Result: "ok"},
			}
			o := New(backend, echoRunner(), nil, tt.opts...)

			env := o.Answer(context.Background(), "q", true)
			assert.True(t, env.Success)
			assert.Equal(t, tt.want, backend.startedUnit)
			assert.Equal(t, map[string]string{"user_question": "q"}, backend.startedInputs)
			assert.Equal(t, 1, backend.polls, "poll exactly once")
		})
	}
}

func TestAnswer_PollErrorIsSurfaced(t *testing.T) {
	backend := &fakeBackend{
		units:   []execution.UnitDescriptor{{ID: "notion_qa_crew"}},
		pollErr: &execution.Error{Kind: execution.KindTimeout, Op: "poll", Message: "request timed out"},
	}
	o := New(backend, echoRunner(), nil)

	env := o.Answer(context.Background(), "q", true)
	assertEnvelopeShape(t, env)
	assert.False(t, env.Success)
	assert.Equal(t, SourceRemote, env.Source)
	assert.Equal(t, "run-1", env.ExecutionID)
	assert.Contains(t, env.Error, "timed out")
	assert.Equal(t, []string{"user:q"}, roles(o.History()), "no assistant turn on failure")
}

func TestAnswer_RemoteResults(t *testing.T) {
	tests := []struct {
		name string
		unit execution.ExecutionUnit
		want Envelope
	}{
		{
			name: "empty result",
			unit: execution.ExecutionUnit{Status: execution.StatusCompleted},
			want: Envelope{Success: true, Answer: NoResult, Source: SourceRemote, ExecutionID: "run-1", Status: "completed"},
		},
		{
			name: "still running",
			unit: execution.ExecutionUnit{Status: execution.StatusRunning},
			want: Envelope{Success: true, Answer: NoResult, Source: SourceRemote, ExecutionID: "run-1", Status: "running"},
		},
		{
			name: "failed unit",
			unit: execution.ExecutionUnit{Status: execution.StatusFailed, Result: "crew crashed"},
			want: Envelope{Success: false, Error: "crew crashed", Source: SourceRemote, ExecutionID: "run-1", Status: "failed"},
		},
		{
			name: "failed unit without result",
			unit: execution.ExecutionUnit{Status: execution.StatusFailed},
			want: Envelope{Success: false, Error: "execution failed", Source: SourceRemote, ExecutionID: "run-1", Status: "failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := tt.unit
			o := New(&fakeBackend{unit: &unit}, echoRunner(), nil)
			env := o.Answer(context.Background(), "q", true)
			assertEnvelopeShape(t, env)
			assert.Equal(t, tt.want, env)
		})
	}
}

func TestAnswer_LocalStageFailure(t *testing.T) {
	runner := LocalRunnerFunc(func(ctx context.Context, q string) (string, error) {
		return "", &pipeline.StageError{Stage: pipeline.StageRetrieval, Err: errors.New("notion API error (status 502)")}
	})
	o := New(&fakeBackend{}, runner, nil)

	env := o.Answer(context.Background(), "q", false)
	assertEnvelopeShape(t, env)
	assert.False(t, env.Success)
	assert.Equal(t, SourceLocal, env.Source)
	assert.Contains(t, env.Error, "retrieval")
	assert.Contains(t, env.Error, "502")
}

func TestAnswer_PanicsAreRecovered(t *testing.T) {
	t.Run("backend panic", func(t *testing.T) {
		o := New(&fakeBackend{panicOn: "list"}, echoRunner(), nil)
		env := o.Answer(context.Background(), "q", true)
		assertEnvelopeShape(t, env)
		assert.False(t, env.Success)
		assert.Equal(t, SourceRemote, env.Source)
		assert.Contains(t, env.Error, "catalog exploded")
	})

	t.Run("local panic", func(t *testing.T) {
		runner := LocalRunnerFunc(func(ctx context.Context, q string) (string, error) {
			var m map[string]int
			m["boom"]++
			return "", nil
		})
		o := New(&fakeBackend{listErr: errors.New("down")}, runner, nil)
		env := o.Answer(context.Background(), "q", true)
		assertEnvelopeShape(t, env)
		assert.False(t, env.Success)
		assert.Equal(t, SourceLocal, env.Source)
		assert.Contains(t, env.Error, "internal error")
	})
}

func TestAnswer_NoLocalRunner(t *testing.T) {
	o := New(&fakeBackend{}, nil, nil)
	env := o.Answer(context.Background(), "q", false)
	assertEnvelopeShape(t, env)
	assert.False(t, env.Success)
}

func TestAnswer_BackendCallsAreBounded(t *testing.T) {
	backend := &fakeBackend{listErr: errors.New("down")}
	o := New(backend, echoRunner(), nil, WithCallTimeout(time.Second))
	o.Answer(context.Background(), "q", true)
	assert.True(t, backend.sawDeadline)
}

func TestHistory_SequentialOrdering(t *testing.T) {
	o := New(execution.NewSimulator(), echoRunner(), nil)
	ctx := context.Background()

	o.Answer(ctx, "Q1", false)
	o.Answer(ctx, "Q2", false)

	assert.Equal(t, []string{
		"user:Q1", "assistant:local answer to: Q1",
		"user:Q2", "assistant:local answer to: Q2",
	}, roles(o.History()))

	o.ClearHistory()
	assert.Empty(t, o.History())
}

func TestHistory_ConcurrentAnswers(t *testing.T) {
	o := New(execution.NewSimulator(), echoRunner(), nil)
	const n = 25

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env := o.Answer(context.Background(), fmt.Sprintf("Q%d", i), i%2 == 0)
			assert.True(t, env.Success)
		}(i)
	}
	wg.Wait()

	turns := o.History()
	require.Len(t, turns, 2*n)

	position := make(map[string]int, len(turns))
	for i, turn := range turns {
		position[string(turn.Role)+":"+turn.Content] = i
	}
	for i := 0; i < n; i++ {
		q := fmt.Sprintf("Q%d", i)
		asked, ok := position["user:"+q]
		require.True(t, ok, "missing question %s", q)
		if i%2 == 1 {
			answered := position["assistant:local answer to: "+q]
			assert.Greater(t, answered, asked, "answer to %s recorded before its question", q)
		}
	}

	simulated := 0
	for _, turn := range turns {
		if turn.Role == history.RoleAssistant && strings.Contains(turn.Content, "(simulated)") {
			simulated++
		}
	}
	assert.Equal(t, (n+1)/2, simulated)
}

func TestStatus(t *testing.T) {
	o := New(execution.NewSimulator(), nil, nil)
	st := o.Status(context.Background())
	assert.True(t, st.Connected)
	assert.Equal(t, "simulator", st.Backend)
	require.Len(t, st.Units, 2)
	assert.Empty(t, st.Error)
	assert.Empty(t, st.Recent)

	o = New(&fakeBackend{listErr: execution.ErrUnreachable}, nil, nil)
	st = o.Status(context.Background())
	assert.False(t, st.Connected)
	assert.Empty(t, st.Units)
	assert.Contains(t, st.Error, "unreachable")

	o = New(nil, nil, nil)
	assert.False(t, o.Status(context.Background()).Connected)
}

func TestStatus_RecentExecutions(t *testing.T) {
	o := New(execution.NewSimulator(), echoRunner(), nil)
	ctx := context.Background()
	for i := 0; i < recentLimit+2; i++ {
		o.Answer(ctx, fmt.Sprintf("question %d", i), true)
	}

	st := o.Status(ctx)
	require.Len(t, st.Recent, recentLimit)
	assert.Equal(t, "exec_3", st.Recent[0].ID)
	assert.Equal(t, fmt.Sprintf("exec_%d", recentLimit+2), st.Recent[recentLimit-1].ID)
	assert.Equal(t, execution.StatusCompleted, st.Recent[0].Status)

	// Backends that do not record executions report none.
	st = New(&fakeBackend{}, nil, nil).Status(ctx)
	assert.Empty(t, st.Recent)
}

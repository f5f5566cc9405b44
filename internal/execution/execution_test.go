package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/notionqa/internal/config"
)

func newRemote(t *testing.T, handler http.HandlerFunc) *RemoteClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewRemoteClient(config.RemoteConfig{URL: server.URL, Token: "tok", Timeout: time.Second})
	require.NoError(t, err)
	return c
}

// ═══════════════════════════════════════════════════════════════════════════════
// REMOTE CLIENT
// ═══════════════════════════════════════════════════════════════════════════════

func TestNewRemoteClient_RequiresToken(t *testing.T) {
	_, err := NewRemoteClient(config.RemoteConfig{URL: "http://x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestRemoteClient_ListUnits(t *testing.T) {
	c := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/mcp/crews", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"crews":[{"id":"notion_qa_crew","name":"Notion Q&A Crew","description":"answers"}]}`))
	})

	units, err := c.ListUnits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []UnitDescriptor{{ID: "notion_qa_crew", Name: "Notion Q&A Crew", Description: "answers"}}, units)
}

func TestRemoteClient_Start(t *testing.T) {
	c := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/mcp/kickoff_crew", r.URL.Path)

		var body kickoffRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "notion_qa_crew", body.CrewID)
		assert.Equal(t, map[string]string{"user_question": "What is our PTO policy?"}, body.Inputs)

		_, _ = w.Write([]byte(`{"execution_id":"abc-123","status":"started","message":"kicked off"}`))
	})

	id, err := c.Start(context.Background(), "notion_qa_crew", map[string]string{"user_question": "What is our PTO policy?"})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)
}

func TestRemoteClient_StartMissingID(t *testing.T) {
	c := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"started"}`))
	})

	_, err := c.Start(context.Background(), "notion_qa_crew", nil)
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestRemoteClient_Poll(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus Status
		wantResult string
	}{
		{"completed string result", `{"status":"COMPLETED","crew_id":"notion_qa_crew","result":"42 days"}`, StatusCompleted, "42 days"},
		{"success alias", `{"status":"success","result":"ok"}`, StatusCompleted, "ok"},
		{"running", `{"status":"in_progress","result":null}`, StatusRunning, ""},
		{"queued", `{"status":"queued"}`, StatusPending, ""},
		{"failed", `{"status":"error","result":"crew crashed"}`, StatusFailed, "crew crashed"},
		{"object result", `{"status":"completed","result":{"answer":"yes"}}`, StatusCompleted, `{"answer":"yes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/mcp/get_crew_status/exec-9", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})

			unit, err := c.Poll(context.Background(), "exec-9")
			require.NoError(t, err)
			assert.Equal(t, "exec-9", unit.ID)
			assert.Equal(t, tt.wantStatus, unit.Status)
			assert.Equal(t, tt.wantResult, unit.Result)
		})
	}
}

func TestRemoteClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		call   func(c *RemoteClient) error
		want   *Error
	}{
		{"unauthorized", http.StatusUnauthorized, func(c *RemoteClient) error { _, err := c.ListUnits(context.Background()); return err }, ErrAuth},
		{"forbidden", http.StatusForbidden, func(c *RemoteClient) error { _, err := c.Start(context.Background(), "u", nil); return err }, ErrAuth},
		{"poll not found", http.StatusNotFound, func(c *RemoteClient) error { _, err := c.Poll(context.Background(), "nope"); return err }, ErrNotFound},
		{"list not found", http.StatusNotFound, func(c *RemoteClient) error { _, err := c.ListUnits(context.Background()); return err }, ErrProtocol},
		{"server error", http.StatusInternalServerError, func(c *RemoteClient) error { _, err := c.ListUnits(context.Background()); return err }, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			})
			err := tt.call(c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestRemoteClient_ProtocolErrorCarriesExcerpt(t *testing.T) {
	c := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	})

	_, err := c.ListUnits(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestRemoteClient_BadJSON(t *testing.T) {
	c := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	})

	_, err := c.ListUnits(context.Background())
	assert.Equal(t, KindProtocol, KindOf(err))
}

func TestRemoteClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ListUnits(ctx)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestRemoteClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	c, err := NewRemoteClient(config.RemoteConfig{URL: addr, Token: "tok", Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.ListUnits(context.Background())
	assert.Equal(t, KindUnreachable, KindOf(err))
}

// ═══════════════════════════════════════════════════════════════════════════════
// SIMULATOR
// ═══════════════════════════════════════════════════════════════════════════════

func TestSimulator_ListUnits(t *testing.T) {
	s := NewSimulator()
	units, err := s.ListUnits(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "notion_qa_crew", units[0].ID)
	assert.Equal(t, "Notion Q&A Crew", units[0].Name)
	assert.Equal(t, "research_crew", units[1].ID)
	assert.Equal(t, "A crew that can research and analyze information", units[1].Description)
}

func TestSimulator_Lifecycle(t *testing.T) {
	s := NewSimulator()
	ctx := context.Background()

	id1, err := s.Start(ctx, "notion_qa_crew", map[string]string{"user_question": "q1"})
	require.NoError(t, err)
	id2, err := s.Start(ctx, "research_crew", nil)
	require.NoError(t, err)
	assert.Equal(t, "exec_1", id1)
	assert.Equal(t, "exec_2", id2)

	units := s.Units()
	require.Len(t, units, 2)
	assert.Equal(t, StatusRunning, units[0].Status)
	assert.Equal(t, "q1", units[0].Inputs["user_question"])

	unit, err := s.Poll(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, unit.Status)
	assert.Equal(t, SimulatedResult, unit.Result)
	assert.Equal(t, "notion_qa_crew", unit.Target)

	again, err := s.Poll(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, unit, again, "repeated polls return the same completed state")
}

func TestSimulator_InputsCopied(t *testing.T) {
	s := NewSimulator()
	inputs := map[string]string{"user_question": "original"}
	id, _ := s.Start(context.Background(), "notion_qa_crew", inputs)
	inputs["user_question"] = "mutated"

	unit, err := s.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "original", unit.Inputs["user_question"])
}

func TestSimulator_PollUnknown(t *testing.T) {
	_, err := NewSimulator().Poll(context.Background(), "exec_99")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSimulator_ConcurrentStartsAreUnique(t *testing.T) {
	s := NewSimulator()
	const n = 50

	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Start(context.Background(), "notion_qa_crew", nil)
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, "exec_50", s.Units()[n-1].ID)
}

// ═══════════════════════════════════════════════════════════════════════════════
// SELECTION & STATUS
// ═══════════════════════════════════════════════════════════════════════════════

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(config.RemoteConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "simulator", b.Name())

	b, err = NewBackend(config.RemoteConfig{Token: config.PlaceholderToken}, nil)
	require.NoError(t, err)
	assert.Equal(t, "simulator", b.Name())

	b, err = NewBackend(config.RemoteConfig{Token: "real", URL: "http://crew.local"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "crewai", b.Name())

	b, err = NewBackend(config.RemoteConfig{Token: "real", URL: "http://agent.local", Transport: "a2a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a2a", b.Name())

	_, err = NewBackend(config.RemoteConfig{Token: "real", Transport: "smtp"}, nil)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"pending": StatusPending, "Queued": StatusPending, "STARTED": StatusPending,
		"running": StatusRunning, "in_progress": StatusRunning,
		"completed": StatusCompleted, "Success": StatusCompleted,
		"failed": StatusFailed, "error": StatusFailed,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseStatus(in), in)
	}
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
}

func TestErrorMessage(t *testing.T) {
	err := newError(KindNotFound, "poll", "execution %s not found", "exec_3")
	assert.Equal(t, "poll: not_found error: execution exec_3 not found", err.Error())
	assert.False(t, errors.Is(err, ErrTimeout))
}

package a2a

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/notionqa/internal/orchestrator"
)

type answerFunc func(ctx context.Context, q string, useRemote bool) orchestrator.Envelope

func (f answerFunc) Answer(ctx context.Context, q string, useRemote bool) orchestrator.Envelope {
	return f(ctx, q, useRemote)
}

func TestNewAgentCard(t *testing.T) {
	card := NewAgentCard("http://localhost:8090/", "1.0.0")

	assert.Equal(t, "0.3", card.ProtocolVersion)
	assert.Equal(t, "1.0.0", card.Version)
	assert.Equal(t, a2a.TransportProtocolJSONRPC, card.PreferredTransport)
	require.Len(t, card.Skills, 1)
	assert.Equal(t, SkillID, card.Skills[0].ID)

	assert.Equal(t, "dev", NewAgentCard("", "").Version)
}

func TestServer_ServesAgentCard(t *testing.T) {
	srv := NewServer(answerFunc(func(ctx context.Context, q string, useRemote bool) orchestrator.Envelope {
		return orchestrator.Envelope{}
	}), ServerConfig{PublicURL: "http://example.test/", Version: "2.0.0"})

	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + a2asrv.WellKnownAgentCardPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var card struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		URL     string `json:"url"`
		Skills  []struct {
			ID string `json:"id"`
		} `json:"skills"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
	assert.Equal(t, srv.Card().Name, card.Name)
	assert.Equal(t, "2.0.0", card.Version)
	assert.Equal(t, "http://example.test/", card.URL)
	require.Len(t, card.Skills, 1)
	assert.Equal(t, SkillID, card.Skills[0].ID)
}

func TestEnvelopeMessage(t *testing.T) {
	tests := []struct {
		name     string
		env      orchestrator.Envelope
		state    a2a.TaskState
		text     string
		wantMeta map[string]any
	}{
		{
			name:  "remote success",
			env:   orchestrator.Envelope{Success: true, Answer: "42", Source: orchestrator.SourceRemote, ExecutionID: "exec_1", Status: "completed"},
			state: a2a.TaskStateCompleted,
			text:  "42",
			wantMeta: map[string]any{
				"success": true, "source": "remote", "execution_id": "exec_1", "status": "completed",
			},
		},
		{
			name:     "local failure",
			env:      orchestrator.Envelope{Success: false, Error: "retrieval stage failed: boom", Source: orchestrator.SourceLocal},
			state:    a2a.TaskStateFailed,
			text:     "Error: retrieval stage failed: boom",
			wantMeta: map[string]any{"success": false, "source": "local"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, msg := envelopeMessage(tt.env)
			assert.Equal(t, tt.state, state)
			require.NotNil(t, msg)
			assert.Equal(t, a2a.MessageRoleAgent, msg.Role)
			require.Len(t, msg.Parts, 2)
			assert.Equal(t, tt.text, messageText(msg))

			data, ok := msg.Parts[1].(a2a.DataPart)
			require.True(t, ok)
			assert.Equal(t, tt.wantMeta, data.Data)
		})
	}
}

func TestMessageHelpers(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "What is"}, &a2a.TextPart{Text: "the roadmap?"})
	assert.Equal(t, "What is the roadmap?", messageText(msg))
	assert.Equal(t, "", messageText(nil))

	assert.False(t, useRemote(msg))
	msg.Metadata = map[string]any{"use_remote": true}
	assert.True(t, useRemote(msg))
	msg.Metadata = map[string]any{"use_remote": "true"}
	assert.True(t, useRemote(msg))
	msg.Metadata = map[string]any{"use_remote": 1}
	assert.False(t, useRemote(msg))
}

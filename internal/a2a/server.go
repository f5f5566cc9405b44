// Package a2a exposes the orchestrator as an A2A agent.
//
// The server speaks JSON-RPC 2.0 and publishes its agent card at the
// well-known path. Each incoming message is one question; the task completes
// with the answer text plus a data part describing where the answer came from.
package a2a

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/normanking/notionqa/internal/logging"
	"github.com/normanking/notionqa/internal/orchestrator"
)

// SkillID is the id of the single skill the agent advertises.
const SkillID = "notion_qa"

// Answerer produces an envelope for a question.
type Answerer interface {
	Answer(ctx context.Context, question string, useRemote bool) orchestrator.Envelope
}

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTOR (implements a2asrv.AgentExecutor)
// ═══════════════════════════════════════════════════════════════════════════════

// Executor answers A2A messages through an Answerer.
type Executor struct {
	answerer Answerer
	log      *logging.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(answerer Answerer) *Executor {
	return &Executor{
		answerer: answerer,
		log:      logging.Global().WithComponent("a2a"),
	}
}

// Execute implements a2asrv.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	e.log.Info("Execute: taskID=%s", reqCtx.TaskID)

	working := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)
	if err := queue.Write(ctx, working); err != nil {
		return fmt.Errorf("failed to write state working: %w", err)
	}

	question := strings.TrimSpace(messageText(reqCtx.Message))
	if question == "" {
		return e.finish(ctx, reqCtx, queue, a2a.TaskStateFailed,
			a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "question is required"}))
	}

	env := e.answerer.Answer(ctx, question, useRemote(reqCtx.Message))
	state, msg := envelopeMessage(env)
	if err := e.finish(ctx, reqCtx, queue, state, msg); err != nil {
		return err
	}

	e.log.Info("Execute: taskID=%s state=%s source=%s", reqCtx.TaskID, state, env.Source)
	return nil
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	e.log.Info("Cancel: taskID=%s", reqCtx.TaskID)
	return e.finish(ctx, reqCtx, queue, a2a.TaskStateCanceled, nil)
}

func (e *Executor) finish(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue, state a2a.TaskState, msg *a2a.Message) error {
	ev := a2a.NewStatusUpdateEvent(reqCtx, state, msg)
	ev.Final = true
	if err := queue.Write(ctx, ev); err != nil {
		return fmt.Errorf("failed to write state %s: %w", state, err)
	}
	return nil
}

// envelopeMessage converts an envelope into the final task state and the
// agent message carrying the answer or error.
func envelopeMessage(env orchestrator.Envelope) (a2a.TaskState, *a2a.Message) {
	meta := map[string]any{
		"success": env.Success,
		"source":  string(env.Source),
	}
	if env.ExecutionID != "" {
		meta["execution_id"] = env.ExecutionID
	}
	if env.Status != "" {
		meta["status"] = env.Status
	}

	if !env.Success {
		return a2a.TaskStateFailed, a2a.NewMessage(a2a.MessageRoleAgent,
			a2a.TextPart{Text: "Error: " + env.Error},
			a2a.DataPart{Data: meta},
		)
	}
	return a2a.TaskStateCompleted, a2a.NewMessage(a2a.MessageRoleAgent,
		a2a.TextPart{Text: env.Answer},
		a2a.DataPart{Data: meta},
	)
}

func messageText(msg *a2a.Message) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case a2a.TextPart:
			parts = append(parts, p.Text)
		case *a2a.TextPart:
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, " ")
}

// useRemote reads the optional "use_remote" flag from message metadata.
func useRemote(msg *a2a.Message) bool {
	if msg == nil || msg.Metadata == nil {
		return false
	}
	switch v := msg.Metadata["use_remote"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════════
// SERVER
// ═══════════════════════════════════════════════════════════════════════════════

// ServerConfig configures the A2A server.
type ServerConfig struct {
	// PublicURL is advertised in the agent card. Defaults to http://<addr>/.
	PublicURL string
	Version   string
}

// Server serves the JSON-RPC endpoint and the agent card.
type Server struct {
	card *a2a.AgentCard
	mux  *http.ServeMux
	log  *logging.Logger
}

// NewServer creates an A2A server in front of answerer.
func NewServer(answerer Answerer, cfg ServerConfig) *Server {
	card := NewAgentCard(cfg.PublicURL, cfg.Version)
	handler := a2asrv.NewHandler(NewExecutor(answerer))

	mux := http.NewServeMux()
	mux.Handle("/", a2asrv.NewJSONRPCHandler(handler))
	mux.Handle(a2asrv.WellKnownAgentCardPath, a2asrv.NewStaticAgentCardHandler(card))

	return &Server{
		card: card,
		mux:  mux,
		log:  logging.Global().WithComponent("a2a"),
	}
}

// NewAgentCard describes the agent.
func NewAgentCard(publicURL, version string) *a2a.AgentCard {
	if version == "" {
		version = "dev"
	}
	return &a2a.AgentCard{
		Name:               "Notion Q&A",
		Description:        "Answers questions about a Notion workspace, via a remote crew or a local research pipeline.",
		Version:            version,
		ProtocolVersion:    "0.3",
		URL:                publicURL,
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Capabilities:       a2a.AgentCapabilities{},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text", "application/json"},
		Skills: []a2a.AgentSkill{
			{
				ID:          SkillID,
				Name:        "Notion Q&A",
				Description: "Search Notion pages and databases and answer a question with a cited summary.",
				Tags:        []string{"notion", "search", "knowledge", "qa"},
				Examples:    []string{"What is the roadmap?", "Who owns the onboarding checklist?"},
				InputModes:  []string{"text"},
				OutputModes: []string{"text", "application/json"},
			},
		},
	}
}

// Card returns the advertised agent card.
func (s *Server) Card() *a2a.AgentCard {
	return s.card
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.card.URL == "" {
		s.card.URL = "http://" + ln.Addr().String() + "/"
	}

	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}

	s.log.Info("A2A agent %q v%s listening on %s", s.card.Name, s.card.Version, ln.Addr())
	s.log.Info("Agent card: %s%s", strings.TrimRight(s.card.URL, "/"), a2asrv.WellKnownAgentCardPath)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errChan
		return err
	}
}

package execution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"
	"github.com/google/uuid"

	"github.com/normanking/notionqa/internal/config"
)

// A2ABackend implements Backend against an A2A-compliant agent. Each agent
// skill is exposed as a unit; an execution is an A2A task.
type A2ABackend struct {
	url     string
	token   string
	timeout time.Duration

	resolver *agentcard.Resolver

	mu     sync.Mutex
	client *a2aclient.Client
	card   *a2a.AgentCard
	// replies holds direct message replies, which have no server-side task.
	replies map[string]*ExecutionUnit
	// targets remembers the unit each started task was sent to.
	targets map[string]string
}

// NewA2ABackend creates a backend for the agent at cfg.URL. The agent card
// is resolved lazily on first use.
func NewA2ABackend(cfg config.RemoteConfig) (*A2ABackend, error) {
	if cfg.Token == "" {
		return nil, newError(KindConfig, "new_a2a_backend", "bearer token is required")
	}
	if cfg.URL == "" {
		return nil, newError(KindConfig, "new_a2a_backend", "agent URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &A2ABackend{
		url:      strings.TrimRight(cfg.URL, "/"),
		token:    cfg.Token,
		timeout:  timeout,
		resolver: agentcard.NewResolver(&http.Client{Timeout: timeout}),
		replies:  make(map[string]*ExecutionUnit),
		targets:  make(map[string]string),
	}, nil
}

// Name identifies the backend.
func (b *A2ABackend) Name() string {
	return "a2a"
}

// connect resolves the agent card and builds the protocol client once.
func (b *A2ABackend) connect(ctx context.Context, op string) (*a2aclient.Client, *a2a.AgentCard, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return b.client, b.card, nil
	}

	card, err := b.resolver.Resolve(ctx, b.url, agentcard.WithRequestHeader("Authorization", "Bearer "+b.token))
	if err != nil {
		return nil, nil, a2aError(op, fmt.Errorf("resolve agent card: %w", err))
	}

	credStore := a2aclient.NewInMemoryCredentialsStore()
	credStore.Set("default", "bearer", a2aclient.AuthCredential(b.token))

	client, err := a2aclient.NewFromCard(ctx, card, a2aclient.WithInterceptors(&a2aclient.AuthInterceptor{
		Service: credStore,
	}))
	if err != nil {
		return nil, nil, &Error{Kind: KindProtocol, Op: op, Message: "create client from card", Err: err}
	}

	b.client = client
	b.card = card
	return client, card, nil
}

// ListUnits maps the agent card's skills to unit descriptors.
func (b *A2ABackend) ListUnits(ctx context.Context) ([]UnitDescriptor, error) {
	_, card, err := b.connect(ctx, "list_units")
	if err != nil {
		return nil, err
	}

	units := make([]UnitDescriptor, 0, len(card.Skills))
	for _, skill := range card.Skills {
		units = append(units, UnitDescriptor{
			ID:          skill.ID,
			Name:        skill.Name,
			Description: skill.Description,
		})
	}
	return units, nil
}

// Start sends the question as a user message. The target unit and all
// inputs travel as message metadata.
func (b *A2ABackend) Start(ctx context.Context, unitID string, inputs map[string]string) (string, error) {
	client, _, err := b.connect(ctx, "start")
	if err != nil {
		return "", err
	}

	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: inputs["user_question"]})
	metadata := map[string]any{"unit_id": unitID}
	for k, v := range inputs {
		metadata[k] = v
	}
	msg.Metadata = metadata

	resp, err := client.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	if err != nil {
		return "", a2aError("start", err)
	}

	switch r := resp.(type) {
	case *a2a.Task:
		b.mu.Lock()
		b.targets[string(r.ID)] = unitID
		b.mu.Unlock()
		return string(r.ID), nil
	case *a2a.Message:
		id := uuid.NewString()
		b.mu.Lock()
		b.replies[id] = &ExecutionUnit{
			ID:     id,
			Target: unitID,
			Inputs: inputs,
			Status: StatusCompleted,
			Result: partsText(r.Parts),
		}
		b.mu.Unlock()
		return id, nil
	default:
		return "", newError(KindProtocol, "start", "unexpected send result %T", resp)
	}
}

// Poll fetches the task and maps its state.
func (b *A2ABackend) Poll(ctx context.Context, executionID string) (*ExecutionUnit, error) {
	b.mu.Lock()
	if reply, ok := b.replies[executionID]; ok {
		b.mu.Unlock()
		return cloneUnit(reply), nil
	}
	b.mu.Unlock()

	client, _, err := b.connect(ctx, "poll")
	if err != nil {
		return nil, err
	}

	task, err := client.GetTask(ctx, &a2a.TaskQueryParams{ID: a2a.TaskID(executionID)})
	if err != nil {
		return nil, a2aError("poll", err)
	}

	unit := &ExecutionUnit{
		ID:     string(task.ID),
		Status: taskStatus(task.Status.State),
		Result: artifactsText(task.Artifacts),
	}
	if unit.Result == "" && task.Status.Message != nil {
		unit.Result = partsText(task.Status.Message.Parts)
	}
	b.mu.Lock()
	unit.Target = b.targets[executionID]
	b.mu.Unlock()
	if unitID, ok := task.Metadata["unit_id"].(string); ok && unit.Target == "" {
		unit.Target = unitID
	}
	return unit, nil
}

// Close releases the protocol client.
func (b *A2ABackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	err := b.client.Destroy()
	b.client = nil
	b.card = nil
	return err
}

// a2aError classifies a failed A2A call. The JSON-RPC transport reports a
// rejected HTTP status only as text, so 401 and 403 are matched there.
func a2aError(op string, err error) *Error {
	var cardStatus *agentcard.ErrStatusNotOK
	if errors.As(err, &cardStatus) {
		if cardStatus.StatusCode == http.StatusUnauthorized || cardStatus.StatusCode == http.StatusForbidden {
			return &Error{Kind: KindAuth, Op: op, Message: "agent card request rejected", Err: err}
		}
		return &Error{Kind: KindProtocol, Op: op, Message: err.Error(), Err: err}
	}
	if errors.Is(err, a2a.ErrTaskNotFound) {
		return &Error{Kind: KindNotFound, Op: op, Message: "task not found", Err: err}
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "unexpected http status: 401"), strings.Contains(text, "unexpected http status: 403"):
		return &Error{Kind: KindAuth, Op: op, Message: "request rejected by agent", Err: err}
	case strings.Contains(text, "unexpected http status"):
		return &Error{Kind: KindProtocol, Op: op, Message: err.Error(), Err: err}
	case strings.Contains(text, "not found") && op == "poll":
		return &Error{Kind: KindNotFound, Op: op, Message: "task not found", Err: err}
	}
	return transportError(op, err)
}

func taskStatus(state a2a.TaskState) Status {
	switch state {
	case a2a.TaskStateSubmitted:
		return StatusPending
	case a2a.TaskStateCompleted:
		return StatusCompleted
	case a2a.TaskStateFailed, a2a.TaskStateCanceled, a2a.TaskStateRejected:
		return StatusFailed
	default:
		// working, input-required, auth-required
		return StatusRunning
	}
}

func artifactsText(artifacts []*a2a.Artifact) string {
	var texts []string
	for _, a := range artifacts {
		if a == nil {
			continue
		}
		if t := partsText(a.Parts); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n")
}

func partsText(parts []a2a.Part) string {
	var sb strings.Builder
	for _, part := range parts {
		switch p := part.(type) {
		case a2a.TextPart:
			sb.WriteString(p.Text)
		case *a2a.TextPart:
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

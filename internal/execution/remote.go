package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/normanking/notionqa/internal/config"
)

const (
	// DefaultRemoteURL is the CrewAI Enterprise base URL.
	DefaultRemoteURL = "https://app.crewai.com"
	// DefaultTimeout bounds each remote call.
	DefaultTimeout = 30 * time.Second

	maxErrorExcerpt = 512
)

// RemoteClient implements Backend over the CrewAI Enterprise MCP HTTP API.
type RemoteClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRemoteClient creates a client for cfg. An empty token is a config error.
func NewRemoteClient(cfg config.RemoteConfig) (*RemoteClient, error) {
	if cfg.Token == "" {
		return nil, newError(KindConfig, "new_remote_client", "bearer token is required")
	}
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = DefaultRemoteURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &RemoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Name identifies the backend.
func (c *RemoteClient) Name() string {
	return "crewai"
}

type crewsResponse struct {
	Crews []UnitDescriptor `json:"crews"`
}

type kickoffRequest struct {
	CrewID string            `json:"crew_id"`
	Inputs map[string]string `json:"inputs"`
}

type kickoffResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

type statusResponse struct {
	ExecutionID string            `json:"execution_id"`
	CrewID      string            `json:"crew_id"`
	Status      string            `json:"status"`
	Inputs      map[string]string `json:"inputs"`
	Result      json.RawMessage   `json:"result"`
}

// ListUnits calls GET /mcp/crews.
func (c *RemoteClient) ListUnits(ctx context.Context) ([]UnitDescriptor, error) {
	var resp crewsResponse
	if err := c.do(ctx, "list_units", http.MethodGet, "/mcp/crews", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Crews == nil {
		return []UnitDescriptor{}, nil
	}
	return resp.Crews, nil
}

// Start calls POST /mcp/kickoff_crew.
func (c *RemoteClient) Start(ctx context.Context, unitID string, inputs map[string]string) (string, error) {
	if inputs == nil {
		inputs = map[string]string{}
	}
	var resp kickoffResponse
	body := kickoffRequest{CrewID: unitID, Inputs: inputs}
	if err := c.do(ctx, "start", http.MethodPost, "/mcp/kickoff_crew", body, &resp); err != nil {
		return "", err
	}
	if resp.ExecutionID == "" {
		return "", newError(KindProtocol, "start", "kickoff response has no execution_id")
	}
	return resp.ExecutionID, nil
}

// Poll calls GET /mcp/get_crew_status/{id}.
func (c *RemoteClient) Poll(ctx context.Context, executionID string) (*ExecutionUnit, error) {
	var resp statusResponse
	path := "/mcp/get_crew_status/" + url.PathEscape(executionID)
	if err := c.do(ctx, "poll", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	unit := &ExecutionUnit{
		ID:     executionID,
		Target: resp.CrewID,
		Inputs: resp.Inputs,
		Status: ParseStatus(resp.Status),
		Result: resultText(resp.Result),
	}
	if resp.ExecutionID != "" {
		unit.ID = resp.ExecutionID
	}
	return unit, nil
}

// resultText renders a result that may be a JSON string, null or any other JSON value.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (c *RemoteClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindProtocol, Op: op, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindConfig, Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newError(KindAuth, op, "service rejected credential (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound && op == "poll":
		return newError(KindNotFound, op, "execution not found")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
		return newError(KindProtocol, op, "unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return transportError(op, err)
		}
		return &Error{Kind: KindProtocol, Op: op, Message: fmt.Sprintf("decode response: %v", err), Err: err}
	}
	return nil
}

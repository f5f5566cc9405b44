// Package tools is the read-only tool layer the retrieval stage calls to
// reach workspace content.
package tools

import (
	"context"
	"time"
)

type ToolType string

const (
	ToolNotionSearch   ToolType = "notion_search"
	ToolNotionPage     ToolType = "notion_page_retriever"
	ToolNotionDatabase ToolType = "notion_database_query"
)

// Parameter is one entry of a tool's prompt catalogue signature.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Tool is a single callable capability. Validate runs before Execute and a
// validation error means Execute is never called.
type Tool interface {
	Name() ToolType
	Description() string
	Parameters() []Parameter
	Validate(req *ToolRequest) error
	Execute(ctx context.Context, req *ToolRequest) (*ToolResult, error)
}

type ToolRequest struct {
	Tool   ToolType          `json:"tool"`
	Params map[string]string `json:"params,omitempty"`
	// Timeout shortens the executor limit for this call. It never extends it.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ToolResult carries the JSON text of an adapter result in Output, or the
// failure text in Error.
type ToolResult struct {
	Tool     ToolType       `json:"tool"`
	Success  bool           `json:"success"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/normanking/notionqa/internal/workspace"
)

// RegisterWorkspaceTools registers the three workspace tools backed by ws.
func RegisterWorkspaceTools(e *Executor, ws workspace.Workspace) error {
	for _, t := range []Tool{
		NewSearchTool(ws),
		NewPageTool(ws),
		NewDatabaseTool(ws),
	} {
		if err := e.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// requireParam returns an error if the named parameter is missing or blank.
func requireParam(req *ToolRequest, name string) error {
	if strings.TrimSpace(req.Params[name]) == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// jsonResult wraps an adapter result as a successful tool result.
func jsonResult(tool ToolType, v any, count int) (*ToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%s: encode result: %w", tool, err)
	}
	return &ToolResult{
		Tool:     tool,
		Success:  true,
		Output:   string(data),
		Metadata: map[string]any{"count": count},
	}, nil
}

func failed(tool ToolType, err error) (*ToolResult, error) {
	return &ToolResult{Tool: tool, Success: false, Error: err.Error()}, err
}

// ─────────────────────────────────────────────────────────────────────────────
// notion_search
// ─────────────────────────────────────────────────────────────────────────────

// SearchTool searches the workspace for pages and databases.
type SearchTool struct {
	ws workspace.Workspace
}

// NewSearchTool creates a search tool.
func NewSearchTool(ws workspace.Workspace) *SearchTool {
	return &SearchTool{ws: ws}
}

func (t *SearchTool) Name() ToolType { return ToolNotionSearch }

func (t *SearchTool) Description() string {
	return "Search the Notion workspace for pages and databases matching a query. Returns titles, types, URLs and ids."
}

func (t *SearchTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "query", Type: "string", Description: "Search terms", Required: true},
	}
}

func (t *SearchTool) Validate(req *ToolRequest) error {
	return requireParam(req, "query")
}

func (t *SearchTool) Execute(ctx context.Context, req *ToolRequest) (*ToolResult, error) {
	results, err := t.ws.Search(ctx, req.Params["query"])
	if err != nil {
		return failed(t.Name(), err)
	}
	return jsonResult(t.Name(), results, len(results))
}

// ─────────────────────────────────────────────────────────────────────────────
// notion_page_retriever
// ─────────────────────────────────────────────────────────────────────────────

// PageTool retrieves the readable content of one page.
type PageTool struct {
	ws workspace.Workspace
}

// NewPageTool creates a page retriever tool.
func NewPageTool(ws workspace.Workspace) *PageTool {
	return &PageTool{ws: ws}
}

func (t *PageTool) Name() ToolType { return ToolNotionPage }

func (t *PageTool) Description() string {
	return "Retrieve the full text content of a Notion page by id, including headings, paragraphs and list items."
}

func (t *PageTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "page_id", Type: "string", Description: "Id of the page to read", Required: true},
	}
}

func (t *PageTool) Validate(req *ToolRequest) error {
	return requireParam(req, "page_id")
}

func (t *PageTool) Execute(ctx context.Context, req *ToolRequest) (*ToolResult, error) {
	page, err := t.ws.RetrievePage(ctx, req.Params["page_id"])
	if err != nil {
		return failed(t.Name(), err)
	}
	return jsonResult(t.Name(), page, len(page.Blocks))
}

// ─────────────────────────────────────────────────────────────────────────────
// notion_database_query
// ─────────────────────────────────────────────────────────────────────────────

// DatabaseTool lists rows of a database.
type DatabaseTool struct {
	ws workspace.Workspace
}

// NewDatabaseTool creates a database query tool.
func NewDatabaseTool(ws workspace.Workspace) *DatabaseTool {
	return &DatabaseTool{ws: ws}
}

func (t *DatabaseTool) Name() ToolType { return ToolNotionDatabase }

func (t *DatabaseTool) Description() string {
	return "Query a Notion database by id and return its rows with simplified property values."
}

func (t *DatabaseTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "database_id", Type: "string", Description: "Id of the database to query", Required: true},
		{Name: "filter", Type: "string", Description: "Optional filter description", Required: false},
	}
}

func (t *DatabaseTool) Validate(req *ToolRequest) error {
	return requireParam(req, "database_id")
}

func (t *DatabaseTool) Execute(ctx context.Context, req *ToolRequest) (*ToolResult, error) {
	rows, err := t.ws.QueryDatabase(ctx, req.Params["database_id"], req.Params["filter"])
	if err != nil {
		return failed(t.Name(), err)
	}
	return jsonResult(t.Name(), rows, len(rows))
}

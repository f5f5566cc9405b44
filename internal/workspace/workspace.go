// Package workspace adapts the Notion REST API into the read-only content
// operations used by the retrieval tools.
package workspace

import (
	"context"
	"errors"
)

// ErrNoToken is returned when a client is constructed without an integration token.
var ErrNoToken = errors.New("workspace: NOTION_TOKEN is required")

// Workspace is the content source the retrieval stage reads from.
type Workspace interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
	RetrievePage(ctx context.Context, id string) (*Page, error)
	QueryDatabase(ctx context.Context, id, filter string) ([]DatabaseRow, error)
}

// SearchResult is one hit from a workspace-wide search.
type SearchResult struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	URL   string `json:"url"`
	ID    string `json:"id"`
}

// Block is a text-bearing content block of a page.
type Block struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Page is a page with its readable blocks.
type Page struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	LastEdited string  `json:"last_edited"`
	Blocks     []Block `json:"blocks"`
}

// DatabaseRow is one entry of a database query with simplified property values.
type DatabaseRow struct {
	ID         string         `json:"id"`
	URL        string         `json:"url"`
	LastEdited string         `json:"last_edited"`
	Properties map[string]any `json:"properties"`
}

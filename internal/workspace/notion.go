package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/normanking/notionqa/internal/logging"
)

const (
	// DefaultEndpoint is the Notion public API base.
	DefaultEndpoint = "https://api.notion.com/v1"
	// DefaultVersion is the pinned Notion-Version header.
	DefaultVersion = "2022-06-28"

	searchPageSize   = 10
	databasePageSize = 20
	maxErrorBody     = 4 * 1024
)

// textBlockTypes lists the block types whose rich text is kept.
var textBlockTypes = map[string]bool{
	"paragraph":          true,
	"heading_1":          true,
	"heading_2":          true,
	"heading_3":          true,
	"bulleted_list_item": true,
	"numbered_list_item": true,
}

// Options configures a NotionClient.
type Options struct {
	Token    string
	Endpoint string
	Version  string
	Timeout  time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// NotionClient implements Workspace over the Notion REST API.
type NotionClient struct {
	token    string
	endpoint string
	version  string
	client   *http.Client
	log      *logging.Logger
}

// NewNotionClient creates a client. A missing token returns ErrNoToken.
func NewNotionClient(opts Options) (*NotionClient, error) {
	if opts.Token == "" {
		return nil, ErrNoToken
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &NotionClient{
		token:    opts.Token,
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		version:  opts.Version,
		client:   client,
		log:      logging.Global().WithComponent("workspace"),
	}, nil
}

// Search runs a workspace-wide search and returns up to ten hits.
func (c *NotionClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	body := map[string]any{"query": query, "page_size": searchPageSize}

	var resp struct {
		Results []notionObject `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/search", body, &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Results))
	for _, obj := range resp.Results {
		results = append(results, SearchResult{
			Title: obj.title(),
			Type:  obj.Object,
			URL:   obj.URL,
			ID:    obj.ID,
		})
	}
	c.log.Debug("search %q returned %d results", query, len(results))
	return results, nil
}

// RetrievePage fetches page metadata and its text blocks.
func (c *NotionClient) RetrievePage(ctx context.Context, id string) (*Page, error) {
	var obj notionObject
	if err := c.do(ctx, http.MethodGet, "/pages/"+url.PathEscape(id), nil, &obj); err != nil {
		return nil, fmt.Errorf("retrieve page %s: %w", id, err)
	}

	var children struct {
		Results []notionBlock `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/blocks/"+url.PathEscape(id)+"/children", nil, &children); err != nil {
		return nil, fmt.Errorf("retrieve blocks %s: %w", id, err)
	}

	page := &Page{
		ID:         obj.ID,
		Title:      obj.title(),
		URL:        obj.URL,
		LastEdited: obj.LastEditedTime,
		Blocks:     []Block{},
	}
	for _, b := range children.Results {
		if !textBlockTypes[b.Type] {
			continue
		}
		page.Blocks = append(page.Blocks, Block{Type: b.Type, Text: b.text()})
	}
	return page, nil
}

// QueryDatabase returns up to twenty rows of a database. The filter is
// recorded in the log but not sent upstream.
func (c *NotionClient) QueryDatabase(ctx context.Context, id, filter string) ([]DatabaseRow, error) {
	if filter != "" {
		c.log.WithField("filter", filter).Debug("database %s queried with filter", id)
	}

	body := map[string]any{"page_size": databasePageSize}
	var resp struct {
		Results []notionObject `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/databases/"+url.PathEscape(id)+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("query database %s: %w", id, err)
	}

	rows := make([]DatabaseRow, 0, len(resp.Results))
	for _, obj := range resp.Results {
		rows = append(rows, DatabaseRow{
			ID:         obj.ID,
			URL:        obj.URL,
			LastEdited: obj.LastEditedTime,
			Properties: obj.simpleProperties(),
		})
	}
	return rows, nil
}

func (c *NotionClient) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("notion API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// ═══════════════════════════════════════════════════════════════════════════════

type richText struct {
	PlainText string `json:"plain_text"`
}

type notionProperty struct {
	Type     string     `json:"type"`
	Title    []richText `json:"title"`
	RichText []richText `json:"rich_text"`
	Select   *struct {
		Name string `json:"name"`
	} `json:"select"`
	Number *float64 `json:"number"`
	Date   *struct {
		Start string `json:"start"`
	} `json:"date"`
}

type notionObject struct {
	Object         string                    `json:"object"`
	ID             string                    `json:"id"`
	URL            string                    `json:"url"`
	LastEditedTime string                    `json:"last_edited_time"`
	Title          []richText                `json:"title"`
	Properties     map[string]notionProperty `json:"properties"`
}

// title returns the first title-typed property's text, then the top-level
// title array (databases), then "Untitled".
func (o notionObject) title() string {
	for _, p := range o.Properties {
		if p.Type == "title" && len(p.Title) > 0 {
			return p.Title[0].PlainText
		}
	}
	if len(o.Title) > 0 {
		return o.Title[0].PlainText
	}
	return "Untitled"
}

func (o notionObject) simpleProperties() map[string]any {
	props := make(map[string]any, len(o.Properties))
	for name, p := range o.Properties {
		switch p.Type {
		case "title":
			if len(p.Title) > 0 {
				props[name] = p.Title[0].PlainText
			}
		case "rich_text":
			if len(p.RichText) > 0 {
				props[name] = p.RichText[0].PlainText
			}
		case "select":
			if p.Select != nil {
				props[name] = p.Select.Name
			}
		case "number":
			if p.Number != nil {
				props[name] = *p.Number
			}
		case "date":
			if p.Date != nil {
				props[name] = p.Date.Start
			}
		}
	}
	return props
}

// notionBlock keeps the raw per-type payload; every text block type stores
// its content under {"rich_text": [...]}.
type notionBlock struct {
	Type string
	Raw  map[string]json.RawMessage
}

func (b *notionBlock) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &b.Raw); err != nil {
		return err
	}
	if t, ok := b.Raw["type"]; ok {
		return json.Unmarshal(t, &b.Type)
	}
	return nil
}

func (b notionBlock) text() string {
	payload, ok := b.Raw[b.Type]
	if !ok {
		return ""
	}
	var content struct {
		RichText []richText `json:"rich_text"`
	}
	if err := json.Unmarshal(payload, &content); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, rt := range content.RichText {
		sb.WriteString(rt.PlainText)
	}
	return sb.String()
}

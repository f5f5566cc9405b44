package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *NotionClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewNotionClient(Options{Token: "secret", Endpoint: server.URL})
	require.NoError(t, err)
	return c
}

func TestNewNotionClient_NoToken(t *testing.T) {
	_, err := NewNotionClient(Options{})
	assert.True(t, errors.Is(err, ErrNoToken))
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, DefaultVersion, r.Header.Get("Notion-Version"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "roadmap", body["query"])
		assert.EqualValues(t, 10, body["page_size"])

		_, _ = w.Write([]byte(`{"results": [
			{"object": "page", "id": "p1", "url": "https://notion.so/p1",
			 "properties": {"Name": {"type": "title", "title": [{"plain_text": "Roadmap 2025"}]}}},
			{"object": "database", "id": "d1", "url": "https://notion.so/d1",
			 "title": [{"plain_text": "Tasks"}], "properties": {}},
			{"object": "page", "id": "p2", "url": "https://notion.so/p2", "properties": {}}
		]}`))
	})

	results, err := c.Search(context.Background(), "roadmap")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, SearchResult{Title: "Roadmap 2025", Type: "page", URL: "https://notion.so/p1", ID: "p1"}, results[0])
	assert.Equal(t, "Tasks", results[1].Title)
	assert.Equal(t, "database", results[1].Type)
	assert.Equal(t, "Untitled", results[2].Title)
}

func TestRetrievePage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pages/p1":
			_, _ = w.Write([]byte(`{"object":"page","id":"p1","url":"https://notion.so/p1","last_edited_time":"2024-05-01T10:00:00.000Z",
				"properties":{"title":{"type":"title","title":[{"plain_text":"Onboarding"}]}}}`))
		case "/blocks/p1/children":
			_, _ = w.Write([]byte(`{"results":[
				{"type":"heading_1","heading_1":{"rich_text":[{"plain_text":"Welcome"}]}},
				{"type":"paragraph","paragraph":{"rich_text":[{"plain_text":"Read the "},{"plain_text":"handbook."}]}},
				{"type":"image","image":{"file":{"url":"https://x"}}},
				{"type":"bulleted_list_item","bulleted_list_item":{"rich_text":[{"plain_text":"Set up laptop"}]}}
			]}`))
		default:
			http.NotFound(w, r)
		}
	})

	page, err := c.RetrievePage(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, "Onboarding", page.Title)
	assert.Equal(t, "2024-05-01T10:00:00.000Z", page.LastEdited)
	assert.Equal(t, []Block{
		{Type: "heading_1", Text: "Welcome"},
		{Type: "paragraph", Text: "Read the handbook."},
		{Type: "bulleted_list_item", Text: "Set up laptop"},
	}, page.Blocks)
}

func TestQueryDatabase(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/databases/db1/query", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 20, body["page_size"])
		assert.NotContains(t, body, "filter")

		_, _ = w.Write([]byte(`{"results":[{"id":"r1","url":"https://notion.so/r1","last_edited_time":"2024-06-01",
			"properties":{
				"Name":{"type":"title","title":[{"plain_text":"Ship v2"}]},
				"Notes":{"type":"rich_text","rich_text":[{"plain_text":"blocked on review"}]},
				"Status":{"type":"select","select":{"name":"In progress"}},
				"Points":{"type":"number","number":5},
				"Due":{"type":"date","date":{"start":"2024-07-01"}},
				"Owner":{"type":"people","people":[]}
			}}]}`))
	})

	rows, err := c.QueryDatabase(context.Background(), "db1", "status = open")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, map[string]any{
		"Name":   "Ship v2",
		"Notes":  "blocked on review",
		"Status": "In progress",
		"Points": float64(5),
		"Due":    "2024-07-01",
	}, rows[0].Properties)
}

func TestErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"unauthorized","message":"API token is invalid."}`))
	})

	_, err := c.Search(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "API token is invalid.")
}

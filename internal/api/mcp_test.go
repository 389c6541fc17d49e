package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/mathcoach/internal/pipeline"
	"github.com/kalambet/mathcoach/internal/retrieval"
	"github.com/kalambet/mathcoach/internal/storage"
	"github.com/kalambet/mathcoach/internal/websearch"
)

// --- mocks ---

type mockRetrieval struct {
	results []retrieval.Result
	err     error
	gotK    int
}

func (m *mockRetrieval) Search(_ context.Context, _ string, k int) ([]retrieval.Result, error) {
	m.gotK = k
	return m.results, m.err
}

type mockWeb struct {
	got []string
}

func (m *mockWeb) Search(_ context.Context, queries []string) websearch.Response {
	m.got = queries
	if len(queries) == 0 {
		return websearch.Response{Status: websearch.StatusError, Error: "No search queries provided", Results: map[string]websearch.QueryResult{}}
	}
	return websearch.Response{Status: websearch.StatusSuccess, Results: map[string]websearch.QueryResult{}}
}

// --- helpers ---

func newTestMCPDeps() MCPDeps {
	return MCPDeps{
		Retrieval: &mockRetrieval{},
		Web:       &mockWeb{},
		Queries:   &mockQueries{},
		Interactions: &mockInteractions{items: []storage.Interaction{
			{ID: "i1", SessionID: "s1", Query: strings.Repeat("x", 300), Outcome: "completed", CreatedAt: time.Now()},
		}},
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_RAGSearch(t *testing.T) {
	deps := newTestMCPDeps()
	rm := &mockRetrieval{results: []retrieval.Result{{ContentID: "c1", Problem: "x+1=2", SimilarityScore: 0.9}}}
	deps.Retrieval = rm

	result, err := mcpRAGSearch(deps)(context.Background(), makeCallToolRequest("rag_search", map[string]interface{}{
		"query":      "linear equations",
		"num_chunks": 3,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var got []retrieval.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(got) != 1 || got[0].ContentID != "c1" {
		t.Errorf("results = %+v", got)
	}
	if rm.gotK != 3 {
		t.Errorf("k = %d, want 3", rm.gotK)
	}
}

func TestMCPTool_RAGSearch_EmptyQuery(t *testing.T) {
	deps := newTestMCPDeps()
	deps.Retrieval = &mockRetrieval{err: retrieval.ErrEmptyQuery}

	result, _ := mcpRAGSearch(deps)(context.Background(), makeCallToolRequest("rag_search", map[string]interface{}{"query": "  "}))
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_RAGSearch_MissingQuery(t *testing.T) {
	result, _ := mcpRAGSearch(newTestMCPDeps())(context.Background(), makeCallToolRequest("rag_search", map[string]interface{}{}))
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_WebSearch(t *testing.T) {
	deps := newTestMCPDeps()
	wm := &mockWeb{}
	deps.Web = wm

	result, err := mcpWebSearch(deps)(context.Background(), makeCallToolRequest("web_search", map[string]interface{}{
		"queries": []interface{}{"chain rule", "product rule"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(wm.got) != 2 || wm.got[1] != "product rule" {
		t.Errorf("queries = %v", wm.got)
	}
	var resp websearch.Response
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != websearch.StatusSuccess {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestMCPTool_WebSearch_NoQueries(t *testing.T) {
	result, _ := mcpWebSearch(newTestMCPDeps())(context.Background(), makeCallToolRequest("web_search", map[string]interface{}{}))
	if !strings.Contains(toolText(t, result), "No search queries provided") {
		t.Errorf("text = %s", toolText(t, result))
	}
}

func TestMCPTool_AskMath(t *testing.T) {
	deps := newTestMCPDeps()
	q := &mockQueries{result: pipeline.Result{Success: true, SessionID: "s1", Response: "PROBLEM ANALYSIS:\n..."}}
	deps.Queries = q

	result, _ := mcpAskMath(deps)(context.Background(), makeCallToolRequest("ask_math", map[string]interface{}{
		"query":      "Differentiate x^3",
		"session_id": "s1",
	}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.HasPrefix(toolText(t, result), "Session ID: s1\n\nPROBLEM ANALYSIS:") {
		t.Errorf("text = %q", toolText(t, result))
	}
	if q.got[0].SessionID != "s1" || q.got[0].Text != "Differentiate x^3" {
		t.Errorf("query = %+v", q.got[0])
	}
}

func TestMCPTool_AskMath_Rejected(t *testing.T) {
	deps := newTestMCPDeps()
	deps.Queries = &mockQueries{result: pipeline.Result{SessionID: "s2", Error: pipeline.InputRejectedMessage, ErrorType: pipeline.ErrorTypeInputValidation}}

	result, _ := mcpAskMath(deps)(context.Background(), makeCallToolRequest("ask_math", map[string]interface{}{"query": "pizza?"}))
	if !result.IsError || !strings.Contains(toolText(t, result), pipeline.InputRejectedMessage) {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps := newTestMCPDeps()
	contents, err := mcpResourceRecent(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "mathcoach://recent"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var items []map[string]string
	if err := json.Unmarshal([]byte(tc.Text), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || len([]rune(items[0]["query"])) != 203 {
		t.Errorf("items = %v", items)
	}
}

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(newTestMCPDeps()); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

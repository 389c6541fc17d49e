package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/mathcoach/internal/pipeline"
	"github.com/kalambet/mathcoach/internal/retrieval"
	"github.com/kalambet/mathcoach/internal/synthesis"
)

// MCPDeps holds dependencies for the MCP server. Interactions is optional.
type MCPDeps struct {
	Retrieval    synthesis.ProblemSearcher
	Web          synthesis.WebSearcher
	Queries      QueryHandler
	Interactions InteractionReader
}

// NewMCPServer creates an MCP server exposing corpus search, web search and
// the full tutoring pipeline as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"mathcoach",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mathcoach: worked-problem search, math web search and step-by-step tutoring answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("rag_search",
			mcp.WithDescription("Search the math problem corpus for worked problems similar to the query."),
			mcp.WithString("query", mcp.Description("What to search for"), mcp.Required()),
			mcp.WithNumber("num_chunks", mcp.Description("Number of problems to return (1-10, default 4)")),
		),
		mcpRAGSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("web_search",
			mcp.WithDescription("Search trusted educational sites. Each query is answered independently."),
			mcp.WithArray("queries", mcp.Description("Search queries to run"), mcp.Required(), mcp.Items(map[string]any{"type": "string"})),
		),
		mcpWebSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_math",
			mcp.WithDescription("Ask the math tutor a question and receive a structured step-by-step explanation."),
			mcp.WithString("query", mcp.Description("The math question"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Session to continue; omit to start a new one")),
			mcp.WithString("user_id", mcp.Description("Optional user identifier")),
		),
		mcpAskMath(deps),
	)

	if deps.Interactions != nil {
		s.AddResource(
			mcp.NewResource(
				"mathcoach://recent",
				"Recent Queries",
				mcp.WithResourceDescription("Last 10 handled queries with their outcome"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpRAGSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		k := req.GetInt("num_chunks", retrieval.DefaultK)

		results, err := deps.Retrieval.Search(ctx, query, k)
		if errors.Is(err, retrieval.ErrEmptyQuery) {
			return mcpError("query must not be empty"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(results)
	}
}

func mcpWebSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queries := req.GetStringSlice("queries", nil)
		return mcpJSON(deps.Web.Search(ctx, queries))
	}
}

func mcpAskMath(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res := deps.Queries.HandleQuery(ctx, pipeline.Query{
			Text:      query,
			SessionID: req.GetString("session_id", ""),
			UserID:    req.GetString("user_id", ""),
		})
		if !res.Success {
			return mcpError(fmt.Sprintf("%s (session_id: %s)", res.Error, res.SessionID)), nil
		}
		return mcpText(fmt.Sprintf("Session ID: %s\n\n%s", res.SessionID, res.Response)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Interactions.RecentInteractions(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			SessionID string `json:"session_id"`
			CreatedAt string `json:"created_at"`
			Query     string `json:"query"`
			Outcome   string `json:"outcome"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			query := ix.Query
			if utf8.RuneCountInString(query) > 200 {
				runes := []rune(query)
				query = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				SessionID: ix.SessionID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Query:     query,
				Outcome:   ix.Outcome,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

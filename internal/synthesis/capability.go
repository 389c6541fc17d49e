package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/mathcoach/internal/retrieval"
	"github.com/kalambet/mathcoach/internal/websearch"
)

// Capability is a tool the synthesis model may call. Invoke returns the
// text handed back to the model as the tool message.
type Capability interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// ProblemSearcher is the retrieval dependency of RAGCapability.
type ProblemSearcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Result, error)
}

// RAGCapability exposes corpus retrieval as rag_search.
type RAGCapability struct {
	search ProblemSearcher
}

func NewRAGCapability(s ProblemSearcher) *RAGCapability {
	return &RAGCapability{search: s}
}

func (c *RAGCapability) Name() string { return "rag_search" }

func (c *RAGCapability) Description() string {
	return "Search the math problem corpus for worked problems similar to the query."
}

func (c *RAGCapability) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "What to search for"},
			"num_chunks": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Number of problems to return (%d-%d, default %d)", retrieval.MinK, retrieval.MaxK, retrieval.DefaultK),
			},
		},
		"required": []string{"query"},
	}
}

func (c *RAGCapability) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query     string `json:"query"`
		NumChunks *int   `json:"num_chunks"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	k := retrieval.DefaultK
	if in.NumChunks != nil {
		k = *in.NumChunks
	}
	results, err := c.search.Search(ctx, in.Query, k)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("encoding results: %w", err)
	}
	return string(out), nil
}

// WebSearcher is the web search dependency of WebCapability.
type WebSearcher interface {
	Search(ctx context.Context, queries []string) websearch.Response
}

// WebCapability exposes Tavily search as web_search.
type WebCapability struct {
	search WebSearcher
}

func NewWebCapability(s WebSearcher) *WebCapability {
	return &WebCapability{search: s}
}

func (c *WebCapability) Name() string { return "web_search" }

func (c *WebCapability) Description() string {
	return "Search trusted educational sites for techniques, references and explanations."
}

func (c *WebCapability) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"queries": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "List of search queries to run",
			},
		},
		"required": []string{"queries"},
	}
}

func (c *WebCapability) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	out, err := json.Marshal(c.search.Search(ctx, in.Queries))
	if err != nil {
		return "", fmt.Errorf("encoding results: %w", err)
	}
	return string(out), nil
}

var errUnknownTool = errors.New("unknown tool")

// toolError renders a failed invocation as the tool message content.
func toolError(err error) string {
	return "Error: " + strings.TrimSpace(err.Error())
}

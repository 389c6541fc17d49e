package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds each outbound search request.
const DefaultTimeout = 30 * time.Second

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Source is one web result.
type Source struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Answer is the raw outcome of a single successful search.
type Answer struct {
	Text    string
	Sources []Source
}

// Citation is a title/url pair the model can cite.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// QueryResult is the per-query entry of a Response. Exactly one of Error or
// Summary is set.
type QueryResult struct {
	Summary       string     `json:"summary,omitempty"`
	Error         string     `json:"error,omitempty"`
	SearchResults []Source   `json:"search_results"`
	Citations     []Citation `json:"citations"`
	ResultCount   int        `json:"result_count"`
	Answer        string     `json:"answer,omitempty"`
}

// Metadata describes a batch.
type Metadata struct {
	QueryCount int `json:"query_count"`
}

// Response is the outcome of a batch. Status is "error" only for batch-level
// problems; per-query failures live in their QueryResult.
type Response struct {
	Status   string                 `json:"status"`
	Error    string                 `json:"error,omitempty"`
	Metadata *Metadata              `json:"metadata,omitempty"`
	Results  map[string]QueryResult `json:"results"`
}

// Searcher runs a single query.
type Searcher interface {
	Search(ctx context.Context, query string) (Answer, error)
	Configured() bool
}

// Tool fans a batch of queries out to a Searcher one at a time.
type Tool struct {
	searcher Searcher
	timeout  time.Duration
	logger   *slog.Logger
}

// NewTool creates a Tool. A non-positive timeout uses DefaultTimeout.
func NewTool(s Searcher, timeout time.Duration) *Tool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tool{searcher: s, timeout: timeout, logger: slog.Default()}
}

// Search runs every query sequentially. It never returns an error: a failed
// query is reported in its own entry and does not affect the others.
func (t *Tool) Search(ctx context.Context, queries []string) Response {
	if len(queries) == 0 {
		t.logger.Warn("web search: no queries provided")
		return Response{Status: StatusError, Error: "No search queries provided", Results: map[string]QueryResult{}}
	}
	if !t.searcher.Configured() {
		t.logger.Error("web search: Tavily API key not configured")
		return Response{Status: StatusError, Error: "Tavily API key not configured", Results: map[string]QueryResult{}}
	}

	results := make(map[string]QueryResult, len(queries))
	for _, q := range queries {
		results[q] = t.searchOne(ctx, q)
	}
	return Response{
		Status:   StatusSuccess,
		Metadata: &Metadata{QueryCount: len(queries)},
		Results:  results,
	}
}

func (t *Tool) searchOne(ctx context.Context, query string) QueryResult {
	t.logger.Info("web search", "query", query)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ans, err := t.searcher.Search(ctx, query)
	if err != nil {
		t.logger.Warn("web search failed", "query", query, "error", err)
		return QueryResult{Error: err.Error(), SearchResults: []Source{}, Citations: []Citation{}}
	}

	citations := make([]Citation, len(ans.Sources))
	for i, s := range ans.Sources {
		citations[i] = Citation{Title: s.Title, URL: s.URL}
		if i < 3 {
			t.logger.Debug("web result", "rank", i+1, "title", s.Title, "url", s.URL)
		}
	}
	t.logger.Info("web search complete", "query", query, "results", len(ans.Sources))

	return QueryResult{
		Summary:       fmt.Sprintf("Found %d sources for '%s'", len(ans.Sources), query),
		SearchResults: ans.Sources,
		Citations:     citations,
		ResultCount:   len(ans.Sources),
		Answer:        ans.Text,
	}
}

// Failed counts the entries of r that carry an error.
func (r Response) Failed() int {
	n := 0
	for _, qr := range r.Results {
		if qr.Error != "" {
			n++
		}
	}
	return n
}

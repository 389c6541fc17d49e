package pipeline

import (
	"context"

	"github.com/kalambet/mathcoach/internal/retrieval"
	"github.com/kalambet/mathcoach/internal/synthesis"
	"github.com/kalambet/mathcoach/internal/websearch"
)

type countedRetrieval struct {
	next synthesis.ProblemSearcher
}

// InstrumentRetrieval records hit counts for every search through s.
func InstrumentRetrieval(s synthesis.ProblemSearcher) synthesis.ProblemSearcher {
	return countedRetrieval{next: s}
}

func (c countedRetrieval) Search(ctx context.Context, query string, k int) ([]retrieval.Result, error) {
	res, err := c.next.Search(ctx, query, k)
	if err == nil {
		retrievalHits.Observe(float64(len(res)))
	}
	return res, err
}

type countedWeb struct {
	next synthesis.WebSearcher
}

// InstrumentWebSearch counts per-query failures for every batch through s.
func InstrumentWebSearch(s synthesis.WebSearcher) synthesis.WebSearcher {
	return countedWeb{next: s}
}

func (c countedWeb) Search(ctx context.Context, queries []string) websearch.Response {
	resp := c.next.Search(ctx, queries)
	if n := resp.Failed(); n > 0 {
		webSearchFailures.Add(float64(n))
	}
	return resp
}

package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrEmptyQuery is returned by Tool.Search for a blank query.
var ErrEmptyQuery = errors.New("retrieval: empty query")

const (
	DefaultK = 4
	MinK     = 1
	MaxK     = 10

	// DefaultScoreThreshold drops weakly related problems.
	DefaultScoreThreshold = 0.3
)

// Result is one retrieved corpus problem.
type Result struct {
	ContentID       string  `json:"content_id"`
	Problem         string  `json:"problem"`
	Solution        string  `json:"solution"`
	Section         string  `json:"section"`
	DifficultyLevel string  `json:"difficulty_level"`
	SimilarityScore float64 `json:"similarity_score"`
}

// QueryEmbedder turns a query into a vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Tool answers semantic searches over the problem corpus. Infrastructure
// failures degrade to an empty result; only a blank query is an error.
type Tool struct {
	embedder  QueryEmbedder
	store     VectorStore
	threshold float32
	logger    *slog.Logger
}

// NewTool creates a Tool. A threshold outside (0,1] falls back to
// DefaultScoreThreshold.
func NewTool(embedder QueryEmbedder, store VectorStore, threshold float64) *Tool {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultScoreThreshold
	}
	return &Tool{
		embedder:  embedder,
		store:     store,
		threshold: float32(threshold),
		logger:    slog.Default(),
	}
}

// ClampK bounds k to [MinK, MaxK].
func ClampK(k int) int {
	return max(MinK, min(MaxK, k))
}

// Search returns up to k corpus problems similar to query, best first.
func (t *Tool) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	k = ClampK(k)

	vec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		t.logger.Warn("retrieval: embedding failed", "error", err)
		return []Result{}, nil
	}

	scored, err := t.store.Search(ctx, vec, k, t.threshold)
	if err != nil {
		t.logger.Warn("retrieval: vector search failed", "error", err)
		return []Result{}, nil
	}

	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		score := float64(min(max(s.Score, 0), 1))
		results = append(results, Result{
			ContentID:       s.ContentID,
			Problem:         s.Problem,
			Solution:        s.Solution,
			Section:         s.Section,
			DifficultyLevel: s.DifficultyLevel,
			SimilarityScore: score,
		})
		t.logger.Debug("retrieval hit",
			"content_id", s.ContentID,
			"score", score,
			"section", s.Section,
			"problem", truncate(s.Problem, 100),
			"solution", truncate(s.Solution, 100),
		)
	}
	t.logger.Info("retrieval: search complete", "k", k, "hits", len(results))
	return results, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

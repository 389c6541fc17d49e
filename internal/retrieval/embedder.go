package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/mathcoach/internal/engine"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds concurrent embedding calls against the engine.
const DefaultConcurrency = 4

// Embedder wraps an Engine to generate text embeddings with a fixed model.
type Embedder struct {
	engine engine.Engine
	model  string
	limit  int
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model, limit: DefaultConcurrency}
}

// WithConcurrency returns a copy of the embedder that runs up to n batch
// embeddings at once. Values below 1 are ignored.
func (e *Embedder) WithConcurrency(n int) *Embedder {
	c := *e
	if n >= 1 {
		c.limit = n
	}
	return &c
}

// Model reports the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for texts, in input order. The first
// failure cancels the remaining calls. Returns nil for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.engine.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

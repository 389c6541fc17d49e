package retrieval

import (
	"context"
	"time"
)

// VectorStore holds embedded corpus problems and answers similarity queries.
// The SQLite implementation scans all vectors; an ANN-capable backend can
// replace it behind this interface once the corpus outgrows a full scan.
type VectorStore interface {
	// Upsert inserts records, replacing any existing record with the same ContentID.
	Upsert(ctx context.Context, records []Record) error

	// Search returns at most topK records whose cosine similarity to vector
	// is at least minScore, ordered by descending score.
	Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]ScoredRecord, error)

	// Delete removes the record with the given content id.
	Delete(ctx context.Context, contentID string) error

	Count(ctx context.Context) (int, error)

	// Sections returns the number of records per section.
	Sections(ctx context.Context) (map[string]int, error)
}

// Record is one embedded problem from the corpus.
type Record struct {
	ID              string
	ContentID       string
	Problem         string
	Solution        string
	Section         string
	DifficultyLevel string
	Source          string
	Embedding       []float32
	CreatedAt       time.Time
}

// EmbeddingText is the text a record is embedded from.
func (r Record) EmbeddingText() string {
	return r.Problem + "\nSolution: " + r.Solution
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

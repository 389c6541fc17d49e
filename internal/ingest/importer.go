// Package ingest loads worked-problem files into the retrieval corpus.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/mathcoach/internal/retrieval"
)

const DefaultBatchSize = 100

// BatchEmbedder generates embeddings for many texts at once.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorUpserter writes records into the vector store.
type VectorUpserter interface {
	Upsert(ctx context.Context, records []retrieval.Record) error
}

// Report summarizes an import run.
type Report struct {
	Files         int `json:"files" yaml:"files"`
	Imported      int `json:"imported" yaml:"imported"`
	Skipped       int `json:"skipped" yaml:"skipped"`
	FailedFiles   int `json:"failed_files" yaml:"failed_files"`
	FailedBatches int `json:"failed_batches" yaml:"failed_batches"`
}

// Importer embeds corpus problems in batches and upserts them.
type Importer struct {
	embedder   BatchEmbedder
	vectors    VectorUpserter
	batchSize  int
	onProgress func(done, total int)
	logger     *slog.Logger
}

// NewImporter creates an Importer. If batchSize is <= 0, it defaults to
// DefaultBatchSize.
func NewImporter(embedder BatchEmbedder, vectors VectorUpserter, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Importer{
		embedder:  embedder,
		vectors:   vectors,
		batchSize: batchSize,
		logger:    slog.Default(),
	}
}

// OnProgress registers a callback invoked after every batch.
func (im *Importer) OnProgress(fn func(done, total int)) *Importer {
	im.onProgress = fn
	return im
}

// ImportDir imports every corpus file under root. Unreadable files and
// failed batches are logged and counted; only cancellation aborts the run.
func (im *Importer) ImportDir(ctx context.Context, root string) (Report, error) {
	paths, err := FindFiles(root)
	if err != nil {
		return Report{}, err
	}
	return im.ImportFiles(ctx, paths)
}

// ImportFiles imports the given corpus files.
func (im *Importer) ImportFiles(ctx context.Context, paths []string) (Report, error) {
	var (
		rep      Report
		problems []Problem
	)
	for _, path := range paths {
		ps, skipped, err := LoadFile(path)
		rep.Files++
		if err != nil {
			im.logger.Warn("skipping corpus file", "path", path, "error", err)
			rep.FailedFiles++
			continue
		}
		rep.Skipped += skipped
		problems = append(problems, ps...)
	}
	if err := im.Import(ctx, problems, &rep); err != nil {
		return rep, err
	}
	im.logger.Info("corpus import complete",
		"files", rep.Files, "imported", rep.Imported, "skipped", rep.Skipped,
		"failed_files", rep.FailedFiles, "failed_batches", rep.FailedBatches)
	return rep, nil
}

// Import embeds and stores problems, updating rep.
func (im *Importer) Import(ctx context.Context, problems []Problem, rep *Report) error {
	for start := 0; start < len(problems); start += im.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+im.batchSize, len(problems))
		if err := im.importBatch(ctx, problems[start:end]); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			im.logger.Warn("corpus batch failed", "offset", start, "size", end-start, "error", err)
			rep.FailedBatches++
		} else {
			rep.Imported += end - start
		}
		if im.onProgress != nil {
			im.onProgress(end, len(problems))
		}
	}
	return nil
}

func (im *Importer) importBatch(ctx context.Context, batch []Problem) error {
	records := make([]retrieval.Record, len(batch))
	texts := make([]string, len(batch))
	now := time.Now().UTC()
	for i, p := range batch {
		records[i] = retrieval.Record{
			ID:              uuid.NewString(),
			ContentID:       p.ContentID,
			Problem:         p.Problem,
			Solution:        p.Solution,
			Section:         p.Section,
			DifficultyLevel: p.DifficultyLevel,
			Source:          p.Source,
			CreatedAt:       now,
		}
		texts[i] = records[i].EmbeddingText()
	}

	vecs, err := im.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding batch: %w", err)
	}
	for i := range records {
		records[i].Embedding = vecs[i]
	}
	if err := im.vectors.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upserting batch: %w", err)
	}
	return nil
}

package engine

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that the engine is reachable and that the guard and
// embedding models are present, pulling any that are missing. The guard
// model is then warmed with a trivial chat so the first validation does not
// pay the load time. Progress is written to w.
func EnsureReady(ctx context.Context, e Engine, guardModel, embedModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("local inference engine is not running; start it with: ollama serve")
	}

	models := make([]string, 0, 2)
	if guardModel != "" {
		models = append(models, guardModel)
	}
	if embedModel != "" && embedModel != guardModel {
		models = append(models, embedModel)
	}

	for _, model := range models {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := e.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if guardModel == "" {
		return nil
	}
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := e.Chat(warmCtx, guardModel, []Message{{Role: "user", Content: "ping"}}, nil); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", guardModel, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", guardModel)
	}
	return nil
}

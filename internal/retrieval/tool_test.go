package retrieval

import (
	"context"
	"errors"
	"testing"
)

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	return s.vec, s.err
}

type stubStore struct {
	VectorStore
	results []ScoredRecord
	err     error
	gotK    int
	gotMin  float32
}

func (s *stubStore) Search(_ context.Context, _ []float32, topK int, minScore float32) ([]ScoredRecord, error) {
	s.gotK = topK
	s.gotMin = minScore
	return s.results, s.err
}

func TestToolSearch_EmptyQuery(t *testing.T) {
	emb := &stubEmbedder{vec: unit(4, 0)}
	tool := NewTool(emb, &stubStore{}, 0.3)

	for _, q := range []string{"", "   ", "\n\t"} {
		if _, err := tool.Search(context.Background(), q, 4); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("Search(%q) err = %v, want ErrEmptyQuery", q, err)
		}
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for blank queries", emb.calls)
	}
}

func TestToolSearch_ClampsK(t *testing.T) {
	cases := []struct{ in, want int }{{0, 1}, {-3, 1}, {4, 4}, {10, 10}, {50, 10}}
	for _, c := range cases {
		store := &stubStore{}
		tool := NewTool(&stubEmbedder{vec: unit(4, 0)}, store, 0.3)
		if _, err := tool.Search(context.Background(), "quadratic", c.in); err != nil {
			t.Fatalf("Search: %v", err)
		}
		if store.gotK != c.want {
			t.Errorf("k=%d passed %d to store, want %d", c.in, store.gotK, c.want)
		}
	}
}

func TestToolSearch_PassesThreshold(t *testing.T) {
	store := &stubStore{}
	tool := NewTool(&stubEmbedder{vec: unit(4, 0)}, store, 0)
	tool.Search(context.Background(), "limits", 4)
	if store.gotMin != float32(DefaultScoreThreshold) {
		t.Errorf("minScore = %v, want default %v", store.gotMin, DefaultScoreThreshold)
	}
}

func TestToolSearch_FailsOpen(t *testing.T) {
	tool := NewTool(&stubEmbedder{err: errors.New("ollama down")}, &stubStore{}, 0.3)
	results, err := tool.Search(context.Background(), "derivative of x^2", 4)
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("results = %#v, want empty non-nil slice", results)
	}

	tool = NewTool(&stubEmbedder{vec: unit(4, 0)}, &stubStore{err: errors.New("disk I/O error")}, 0.3)
	results, err = tool.Search(context.Background(), "derivative of x^2", 4)
	if err != nil || len(results) != 0 {
		t.Errorf("store failure: results=%v err=%v", results, err)
	}
}

func TestToolSearch_MapsPayload(t *testing.T) {
	store := &stubStore{results: []ScoredRecord{
		{Record: Record{ContentID: "c1", Problem: "p", Solution: "s", Section: "calculus", DifficultyLevel: "Level 4"}, Score: 0.91},
		{Record: Record{ContentID: "c2"}, Score: 1.0000001},
	}}
	tool := NewTool(&stubEmbedder{vec: unit(4, 0)}, store, 0.3)

	results, err := tool.Search(context.Background(), "integral", 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	r := results[0]
	if r.ContentID != "c1" || r.Section != "calculus" || r.DifficultyLevel != "Level 4" || r.Problem != "p" || r.Solution != "s" {
		t.Errorf("payload = %+v", r)
	}
	if r.SimilarityScore < 0.9 || r.SimilarityScore > 0.92 {
		t.Errorf("score = %v", r.SimilarityScore)
	}
	if results[1].SimilarityScore > 1 {
		t.Errorf("score not clamped: %v", results[1].SimilarityScore)
	}
}

func TestToolSearch_EndToEndWithSQLite(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.Upsert(ctx, []Record{record("near", unit(4, 0)), record("far", unit(4, 3))}); err != nil {
		t.Fatal(err)
	}

	tool := NewTool(&stubEmbedder{vec: unit(4, 0)}, store, 0.3)
	results, err := tool.Search(ctx, "solve for x", 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ContentID != "near" {
		t.Errorf("results = %+v", results)
	}
}

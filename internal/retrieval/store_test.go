package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/kalambet/mathcoach/internal/storage"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSQLiteStore(st.DB())
}

// unit returns a vector pointing mostly along axis i.
func unit(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

func record(contentID string, vec []float32) Record {
	return Record{
		ContentID:       contentID,
		Problem:         "problem " + contentID,
		Solution:        "solution " + contentID,
		Section:         "algebra",
		DifficultyLevel: "Level 2",
		Embedding:       vec,
	}
}

func TestUpsertAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, []Record{record("p1", unit(8, 0)), record("p2", unit(8, 1))}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := s.Search(ctx, unit(8, 0), 5, 0.3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (orthogonal vector below threshold)", len(results))
	}
	got := results[0]
	if got.ContentID != "p1" || got.Score < 0.99 {
		t.Errorf("got %s score %f", got.ContentID, got.Score)
	}
	if got.Problem != "problem p1" || got.Section != "algebra" || got.DifficultyLevel != "Level 2" {
		t.Errorf("payload not round-tripped: %+v", got.Record)
	}
	if len(got.Embedding) != 8 {
		t.Errorf("embedding length = %d, want 8", len(got.Embedding))
	}
}

func TestSearch_TopKOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var recs []Record
	for i := 0; i < 6; i++ {
		v := unit(4, 0)
		v[1] = float32(i) * 0.2
		recs = append(recs, record(fmt.Sprintf("p%d", i), v))
	}
	if err := s.Upsert(ctx, recs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := s.Search(ctx, unit(4, 0), 3, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	want := []string{"p0", "p1", "p2"}
	for i, r := range results {
		if r.ContentID != want[i] {
			t.Errorf("results[%d] = %s, want %s", i, r.ContentID, want[i])
		}
		if i > 0 && r.Score > results[i-1].Score {
			t.Errorf("results not descending at %d", i)
		}
	}
}

func TestSearch_EmptyStoreAndZeroVector(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	results, err := s.Search(ctx, unit(4, 0), 4, 0.3)
	if err != nil || len(results) != 0 {
		t.Errorf("empty store: results=%v err=%v", results, err)
	}

	if err := s.Upsert(ctx, []Record{record("p1", unit(4, 0))}); err != nil {
		t.Fatal(err)
	}
	results, err = s.Search(ctx, make([]float32, 4), 4, 0)
	if err != nil || len(results) != 0 {
		t.Errorf("zero vector: results=%v err=%v", results, err)
	}
}

func TestUpsert_ReplacesByContentID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, []Record{record("p1", unit(4, 0))}); err != nil {
		t.Fatal(err)
	}
	updated := record("p1", unit(4, 0))
	updated.Solution = "revised"
	if err := s.Upsert(ctx, []Record{updated}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	results, _ := s.Search(ctx, unit(4, 0), 1, 0)
	if len(results) != 1 || results[0].Solution != "revised" {
		t.Errorf("record not replaced: %+v", results)
	}
}

func TestUpsert_RequiresContentID(t *testing.T) {
	s := openTestStore(t)

	if err := s.Upsert(context.Background(), []Record{{Problem: "x", Embedding: unit(2, 0)}}); err == nil {
		t.Error("expected error for missing content id")
	}
}

func TestDeleteAndSections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	geo := record("g1", unit(4, 1))
	geo.Section = "geometry"
	if err := s.Upsert(ctx, []Record{record("a1", unit(4, 0)), record("a2", unit(4, 2)), geo}); err != nil {
		t.Fatal(err)
	}

	sections, err := s.Sections(ctx)
	if err != nil {
		t.Fatalf("Sections: %v", err)
	}
	if sections["algebra"] != 2 || sections["geometry"] != 1 {
		t.Errorf("sections = %v", sections)
	}

	if err := s.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "a1"); err == nil {
		t.Error("expected error deleting missing record")
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.125}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

package session

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildContext_Empty(t *testing.T) {
	if got := BuildContext(nil); got != NoHistoryMarker {
		t.Errorf("BuildContext(nil) = %q", got)
	}
}

func TestBuildContext_Format(t *testing.T) {
	got := BuildContext([]Exchange{
		{Query: "Solve x^2=4", Response: "x = ±2"},
		{Query: "And x^2=9?", Response: "x = ±3"},
	})
	want := "CONVERSATION HISTORY:\n" +
		"\nPREVIOUS QUERY 1: Solve x^2=4\n" +
		"PREVIOUS RESPONSE 1 (Summary): x = ±2...\n" +
		"\nPREVIOUS QUERY 2: And x^2=9?\n" +
		"PREVIOUS RESPONSE 2 (Summary): x = ±3...\n"
	if got != want {
		t.Errorf("BuildContext =\n%q\nwant\n%q", got, want)
	}
}

func TestBuildContext_TruncatesResponse(t *testing.T) {
	long := strings.Repeat("a", 499) + "∫" + strings.Repeat("b", 100)
	got := BuildContext([]Exchange{{Query: "q", Response: long}})

	if strings.Contains(got, "b") {
		t.Error("summary exceeded 500 characters")
	}
	if !strings.Contains(got, "∫...") {
		t.Error("multi-byte character at the boundary was split or dropped")
	}
}

func TestSummarize(t *testing.T) {
	if got := Summarize("short"); got != "short" {
		t.Errorf("Summarize(short) = %q", got)
	}
	s := Summarize(strings.Repeat("é", 800))
	if n := utf8.RuneCountInString(s); n != SummaryLimit {
		t.Errorf("rune count = %d, want %d", n, SummaryLimit)
	}
	if !utf8.ValidString(s) {
		t.Error("summary is not valid UTF-8")
	}
}

func TestStoreContext(t *testing.T) {
	s := NewStore()
	if got := s.Context("unknown"); got != NoHistoryMarker {
		t.Errorf("unknown session context = %q", got)
	}

	id := s.ResolveOrCreate("", "u")
	s.AppendExchange(id, "integrate x sin x", "Use integration by parts")
	got := s.Context(id)
	if !strings.Contains(got, "PREVIOUS QUERY 1: integrate x sin x") {
		t.Errorf("context = %q", got)
	}
}

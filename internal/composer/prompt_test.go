package composer

import (
	"strings"
	"testing"
)

func TestCompose_IncludesSessionMetadata(t *testing.T) {
	got := Compose(Input{
		SessionID:   "7f1c",
		QueryNumber: 3,
		Context:     "No previous conversation in this session.",
		Query:       "Solve ∫x·sin(x)dx",
	})

	for _, want := range []string{
		"Session ID: 7f1c\n",
		"Memory Status: disabled (fallback mode)\n",
		"Query #3\n",
		"No previous conversation in this session.",
		"CURRENT USER QUERY: Solve ∫x·sin(x)dx\n",
		"rag_search and web_search",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("enhanced query missing %q:\n%s", want, got)
		}
	}
}

func TestCompose_ContextPrecedesQuery(t *testing.T) {
	ctx := "CONVERSATION HISTORY:\n\nPREVIOUS QUERY 1: x^2=4\nPREVIOUS RESPONSE 1 (Summary): x=±2...\n"
	got := Compose(Input{SessionID: "s", QueryNumber: 2, Context: ctx, Query: "now the previous problem with 9"})

	ci := strings.Index(got, "PREVIOUS QUERY 1: x^2=4")
	qi := strings.Index(got, "CURRENT USER QUERY")
	if ci < 0 || qi < 0 || ci > qi {
		t.Errorf("context must appear before the current query:\n%s", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("trailing context newlines not trimmed:\n%q", got)
	}
}

func TestTutorInstructions_NameTools(t *testing.T) {
	for _, tool := range []string{"rag_search", "web_search"} {
		if !strings.Contains(TutorInstructions, tool) {
			t.Errorf("instructions do not mention %s", tool)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2}
	for in, want := range cases {
		if got := EstimateTokens(in); got != want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", in, got, want)
		}
	}
}

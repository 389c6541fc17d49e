package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kalambet/mathcoach/internal/composer"
	"github.com/kalambet/mathcoach/internal/guardrail"
	"github.com/kalambet/mathcoach/internal/proxy"
	"github.com/kalambet/mathcoach/internal/retrieval"
	"github.com/kalambet/mathcoach/internal/session"
	"github.com/kalambet/mathcoach/internal/storage"
	"github.com/kalambet/mathcoach/internal/synthesis"
	"github.com/kalambet/mathcoach/internal/websearch"
)

type fakeInput struct {
	verdict guardrail.Verdict
}

func (f *fakeInput) Validate(ctx context.Context, text string) guardrail.Outcome {
	return guardrail.Outcome{Verdict: f.verdict}
}

type fakeOutput struct {
	verdict guardrail.Verdict

	mu  sync.Mutex
	got synthesis.StructuredResponse
}

func (f *fakeOutput) Validate(ctx context.Context, resp synthesis.StructuredResponse) guardrail.Outcome {
	f.mu.Lock()
	f.got = resp
	f.mu.Unlock()
	return guardrail.Outcome{Verdict: f.verdict}
}

// fakeSynth records every enhanced query it receives.
type fakeSynth struct {
	mu      sync.Mutex
	queries []string
	resp    synthesis.StructuredResponse
	tools   map[string]int
	err     error
	panic   bool
}

func (f *fakeSynth) Synthesize(ctx context.Context, enhancedQuery string) (synthesis.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, enhancedQuery)
	f.mu.Unlock()
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return synthesis.Result{}, f.err
	}
	return synthesis.Result{Response: f.resp, ToolCalls: f.tools}, nil
}

type fakeRecorder struct {
	mu    sync.Mutex
	saved []storage.Interaction
	err   error
}

func (f *fakeRecorder) SaveInteraction(ctx context.Context, i storage.Interaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, i)
	return f.err
}

func sampleResponse() synthesis.StructuredResponse {
	return synthesis.StructuredResponse{
		SessionID:               "hallucinated-id",
		ProblemAnalysis:         "Integration by parts applies to a product of x and sin(x).",
		ConceptExplanation:      "∫u dv = uv - ∫v du",
		StepByStepSolution:      "Let u = x, dv = sin(x)dx. Then the integral is -x cos(x) + sin(x) + C.",
		AlternativeMethods:      []string{"Tabular integration"},
		KeyFormulasUsed:         []string{"∫u dv = uv - ∫v du"},
		RelatedTopics:           []string{"Integration", "Trigonometry"},
		DifficultyLevel:         "Medium",
		TimeToSolveMinutes:      5,
		PracticeRecommendations: "Try ∫x·cos(x)dx. Did this help?",
	}
}

type harness struct {
	orch     *Orchestrator
	sessions *session.Store
	input    *fakeInput
	output   *fakeOutput
	synth    *fakeSynth
	recorder *fakeRecorder
}

func newHarness() *harness {
	h := &harness{
		sessions: session.NewStore(),
		input:    &fakeInput{verdict: guardrail.Passed},
		output:   &fakeOutput{verdict: guardrail.Passed},
		synth:    &fakeSynth{resp: sampleResponse(), tools: map[string]int{"rag_search": 1, "web_search": 1}},
		recorder: &fakeRecorder{},
	}
	h.orch = New(Deps{
		Sessions:    h.sessions,
		Input:       h.input,
		Output:      h.output,
		Synthesizer: h.synth,
		Recorder:    h.recorder,
	})
	return h
}

func TestHandleQuery_NewSession(t *testing.T) {
	h := newHarness()

	res := h.orch.HandleQuery(context.Background(), Query{Text: "Solve ∫x·sin(x)dx"})
	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	if res.SessionID == "" {
		t.Fatal("expected a minted session id")
	}
	if res.TotalQueries != 1 {
		t.Errorf("TotalQueries = %d, want 1", res.TotalQueries)
	}
	if res.StructuredResponse.SessionID != res.SessionID {
		t.Errorf("StructuredResponse.SessionID = %q, want %q", res.StructuredResponse.SessionID, res.SessionID)
	}
	if res.StructuredResponse.MemoryInsights != DefaultMemoryInsights {
		t.Errorf("MemoryInsights = %q", res.StructuredResponse.MemoryInsights)
	}
	if res.StructuredResponse.PersonalizedTips != DefaultPersonalizedTips {
		t.Errorf("PersonalizedTips = %q", res.StructuredResponse.PersonalizedTips)
	}
	if res.HasContext {
		t.Error("HasContext = true after first query")
	}
	if res.State != StateCompleted {
		t.Errorf("State = %s", res.State)
	}
	if !strings.Contains(res.Response, "Query #1") || !strings.HasSuffix(res.Response, strings.Repeat("=", 70)) {
		t.Errorf("transcript = %q", res.Response)
	}
	if h.output.got.SessionID != res.SessionID {
		t.Error("output guardrail saw the model's session id, not the resolved one")
	}
	if res.SessionInfo == nil || len(res.SessionInfo.History) != 1 {
		t.Errorf("SessionInfo = %+v", res.SessionInfo)
	}

	enhanced := h.synth.queries[0]
	for _, want := range []string{"Session ID: " + res.SessionID, "Query #1", session.NoHistoryMarker, "CURRENT USER QUERY: Solve ∫x·sin(x)dx"} {
		if !strings.Contains(enhanced, want) {
			t.Errorf("enhanced query missing %q", want)
		}
	}
}

func TestHandleQuery_FollowUpCarriesContext(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first := h.orch.HandleQuery(ctx, Query{Text: "Solve ∫x·sin(x)dx"})
	second := h.orch.HandleQuery(ctx, Query{Text: "Now explain the previous problem differently", SessionID: first.SessionID})

	if second.SessionID != first.SessionID {
		t.Fatalf("session changed: %q -> %q", first.SessionID, second.SessionID)
	}
	if second.TotalQueries != 2 {
		t.Errorf("TotalQueries = %d, want 2", second.TotalQueries)
	}
	if !second.HasContext {
		t.Error("HasContext = false on second query")
	}

	enhanced := h.synth.queries[1]
	if !strings.Contains(enhanced, "PREVIOUS QUERY 1: Solve ∫x·sin(x)dx") {
		t.Errorf("enhanced query lacks prior query:\n%s", enhanced)
	}
	if !strings.Contains(enhanced, "PREVIOUS RESPONSE 1 (Summary): "+session.Summarize(first.Response)+"...") {
		t.Error("enhanced query lacks summarized prior response")
	}
}

func TestHandleQuery_InputRejected(t *testing.T) {
	h := newHarness()
	h.input.verdict = guardrail.Tripped

	res := h.orch.HandleQuery(context.Background(), Query{Text: "What's your favorite pizza topping?"})
	if res.Success {
		t.Fatal("Success = true, want rejection")
	}
	if res.ErrorType != ErrorTypeInputValidation || res.Error != InputRejectedMessage {
		t.Errorf("result = %+v", res)
	}
	if len(h.synth.queries) != 0 {
		t.Error("synthesis ran after input rejection")
	}
	if res.SessionID == "" {
		t.Error("rejection should carry the resolved session id")
	}
	info, _ := h.sessions.Snapshot(res.SessionID)
	if len(info.History) != 0 {
		t.Error("rejected query was appended to history")
	}
}

func TestHandleQuery_OutputRejected(t *testing.T) {
	h := newHarness()
	h.output.verdict = guardrail.Tripped

	res := h.orch.HandleQuery(context.Background(), Query{Text: "2+2"})
	if res.ErrorType != ErrorTypeOutputValidation || res.Error != OutputRejectedMessage {
		t.Errorf("result = %+v", res)
	}
	if res.StructuredResponse != nil || res.Response != "" {
		t.Error("rejected response was not discarded")
	}
}

func TestHandleQuery_GuardrailErrorFailsOpen(t *testing.T) {
	h := newHarness()
	h.input.verdict = guardrail.PassedWithError
	h.output.verdict = guardrail.PassedWithError

	res := h.orch.HandleQuery(context.Background(), Query{Text: "2+2"})
	if !res.Success {
		t.Fatalf("Success = false: %q", res.Error)
	}
}

func TestHandleQuery_SynthesisError(t *testing.T) {
	h := newHarness()
	h.synth.err = &proxy.RateLimitError{}

	res := h.orch.HandleQuery(context.Background(), Query{Text: "2+2"})
	if res.ErrorType != ErrorTypeSystem {
		t.Fatalf("ErrorType = %q", res.ErrorType)
	}
	if !strings.HasPrefix(res.Error, "SYSTEM ERROR: ") || !strings.Contains(res.Error, "rate limited") {
		t.Errorf("Error = %q", res.Error)
	}
	if res.SessionID == "" {
		t.Error("system error should carry the resolved session id")
	}
}

func TestHandleQuery_PanicBecomesSystemError(t *testing.T) {
	h := newHarness()
	h.synth.panic = true

	res := h.orch.HandleQuery(context.Background(), Query{Text: "2+2"})
	if res.State != StateFailed || res.Error != "SYSTEM ERROR: panic: boom" {
		t.Errorf("result = %+v", res)
	}
	if len(h.recorder.saved) != 1 || h.recorder.saved[0].Outcome != "failed" {
		t.Errorf("recorded = %+v", h.recorder.saved)
	}
}

func TestHandleQuery_UnknownSessionMintsNew(t *testing.T) {
	h := newHarness()

	res := h.orch.HandleQuery(context.Background(), Query{Text: "2+2", SessionID: "typo-id"})
	if res.SessionID == "typo-id" || res.SessionID == "" {
		t.Errorf("SessionID = %q, want freshly minted", res.SessionID)
	}
	if res.TotalQueries != 1 {
		t.Errorf("TotalQueries = %d, want 1", res.TotalQueries)
	}
}

func TestHandleQuery_HistoryBounded(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	sid := ""
	for i := 0; i < 5; i++ {
		res := h.orch.HandleQuery(ctx, Query{Text: "q", SessionID: sid})
		sid = res.SessionID
		if res.TotalQueries != i+1 {
			t.Fatalf("query %d: TotalQueries = %d", i, res.TotalQueries)
		}
	}
	info, _ := h.sessions.Snapshot(sid)
	if len(info.History) != session.HistoryCapacity {
		t.Errorf("history = %d, want %d", len(info.History), session.HistoryCapacity)
	}
}

func TestHandleQuery_RecordsInteraction(t *testing.T) {
	h := newHarness()
	h.recorder.err = errors.New("disk full")

	res := h.orch.HandleQuery(context.Background(), Query{Text: "2+2", UserID: "alice"})
	if !res.Success {
		t.Fatal("recorder failure must not fail the query")
	}
	if len(h.recorder.saved) != 1 {
		t.Fatalf("saved = %d, want 1", len(h.recorder.saved))
	}
	got := h.recorder.saved[0]
	if got.SessionID != res.SessionID || got.UserID != "alice" || got.Outcome != "completed" || got.QueryNumber != 1 {
		t.Errorf("interaction = %+v", got)
	}
	if !strings.Contains(got.ToolCalls, `"rag_search":1`) {
		t.Errorf("ToolCalls = %q", got.ToolCalls)
	}
}

func TestHandleQuery_CountsToolFreeSynthesis(t *testing.T) {
	h := newHarness()
	h.synth.tools = map[string]int{}

	before := testutil.ToFloat64(synthesesWithoutTools)
	h.orch.HandleQuery(context.Background(), Query{Text: "2+2"})
	if got := testutil.ToFloat64(synthesesWithoutTools) - before; got != 1 {
		t.Errorf("syntheses_without_tools delta = %v, want 1", got)
	}
}

func TestHandleQuery_CountsPromptTokens(t *testing.T) {
	h := newHarness()

	before := testutil.ToFloat64(promptTokens)
	h.orch.HandleQuery(context.Background(), Query{Text: "Differentiate x^3 sin(x)"})

	if len(h.synth.queries) != 1 {
		t.Fatalf("synthesis calls = %d", len(h.synth.queries))
	}
	want := float64(composer.EstimateTokens(h.synth.queries[0]))
	if got := testutil.ToFloat64(promptTokens) - before; got != want {
		t.Errorf("prompt tokens delta = %v, want %v", got, want)
	}
}

func TestHandleQuery_RejectedInputSpendsNoPromptTokens(t *testing.T) {
	h := newHarness()
	h.input.verdict = guardrail.Tripped

	before := testutil.ToFloat64(promptTokens)
	h.orch.HandleQuery(context.Background(), Query{Text: "pizza"})
	if got := testutil.ToFloat64(promptTokens) - before; got != 0 {
		t.Errorf("prompt tokens delta = %v, want 0", got)
	}
}

func TestHandleQuery_ConcurrentSameSession(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sid := h.orch.HandleQuery(ctx, Query{Text: "first"}).SessionID

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.HandleQuery(ctx, Query{Text: "again", SessionID: sid})
		}()
	}
	wg.Wait()

	info, _ := h.sessions.Snapshot(sid)
	if info.TotalQueries != 21 {
		t.Errorf("TotalQueries = %d, want 21", info.TotalQueries)
	}
	if len(info.History) != session.HistoryCapacity {
		t.Errorf("history = %d, want %d", len(info.History), session.HistoryCapacity)
	}
}

// scriptedCompleter drives a real Synthesizer through one tool round.
type scriptedCompleter struct {
	replies []proxy.Message
	seen    [][]proxy.Message
}

func (c *scriptedCompleter) Complete(ctx context.Context, req proxy.ChatRequest) (proxy.ChatResponse, error) {
	c.seen = append(c.seen, req.Messages)
	msg := c.replies[0]
	c.replies = c.replies[1:]
	return proxy.ChatResponse{Choices: []proxy.Choice{{Message: msg}}}, nil
}

type staticProblems struct{}

func (staticProblems) Search(ctx context.Context, query string, k int) ([]retrieval.Result, error) {
	return []retrieval.Result{{ContentID: "c1", Problem: "∫x·cos(x)dx", Solution: "x sin(x) + cos(x) + C", SimilarityScore: 0.8}}, nil
}

func TestHandleQuery_WebSearchUnconfigured(t *testing.T) {
	completer := &scriptedCompleter{replies: []proxy.Message{
		{Role: "assistant", ToolCalls: []proxy.ToolCall{
			{ID: "1", Type: "function", Function: proxy.FunctionCall{Name: "rag_search", Arguments: `{"query":"integration by parts"}`}},
			{ID: "2", Type: "function", Function: proxy.FunctionCall{Name: "web_search", Arguments: `{"queries":["integration by parts"]}`}},
		}},
		{Role: "assistant", Content: `{"session_id":"x","problem_analysis":"a","concept_explanation":"b","step_by_step_solution":"c","alternative_methods":[],"key_formulas_used":[],"common_mistakes_to_avoid":[],"related_topics":[],"difficulty_level":"Medium","time_to_solve_minutes":4,"practice_recommendations":"d","memory_insights":"","personalized_tips":""}`},
	}}
	web := websearch.NewTool(websearch.NewTavilyClient("", ""), 0)
	synth := synthesis.New(completer, synthesis.Config{Model: "m"},
		synthesis.NewRAGCapability(InstrumentRetrieval(staticProblems{})),
		synthesis.NewWebCapability(InstrumentWebSearch(web)),
	)
	orch := New(Deps{
		Sessions:    session.NewStore(),
		Input:       &fakeInput{verdict: guardrail.Passed},
		Output:      &fakeOutput{verdict: guardrail.Passed},
		Synthesizer: synth,
	})

	res := orch.HandleQuery(context.Background(), Query{Text: "Solve ∫x·sin(x)dx"})
	if !res.Success {
		t.Fatalf("Success = false: %q", res.Error)
	}
	if res.ToolCalls["rag_search"] != 1 || res.ToolCalls["web_search"] != 1 {
		t.Errorf("ToolCalls = %v", res.ToolCalls)
	}

	toolMsgs := completer.seen[1][3:]
	if !strings.Contains(toolMsgs[0].Content, `"content_id":"c1"`) {
		t.Errorf("rag tool message = %q", toolMsgs[0].Content)
	}
	if !strings.Contains(toolMsgs[1].Content, "Tavily API key not configured") {
		t.Errorf("web tool message = %q", toolMsgs[1].Content)
	}
}

// Package pipeline runs a student query through session resolution, the
// guardrails and synthesis, and returns a Result.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/mathcoach/internal/composer"
	"github.com/kalambet/mathcoach/internal/guardrail"
	"github.com/kalambet/mathcoach/internal/session"
	"github.com/kalambet/mathcoach/internal/storage"
	"github.com/kalambet/mathcoach/internal/synthesis"
)

// InputGuard screens a raw query.
type InputGuard interface {
	Validate(ctx context.Context, text string) guardrail.Outcome
}

// OutputGuard screens a synthesized answer.
type OutputGuard interface {
	Validate(ctx context.Context, resp synthesis.StructuredResponse) guardrail.Outcome
}

// Synthesizer turns an enhanced query into a structured answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, enhancedQuery string) (synthesis.Result, error)
}

// Recorder persists handled queries. Optional.
type Recorder interface {
	SaveInteraction(ctx context.Context, i storage.Interaction) error
}

// Deps are the collaborators of an Orchestrator. Recorder may be nil.
type Deps struct {
	Sessions    *session.Store
	Input       InputGuard
	Output      OutputGuard
	Synthesizer Synthesizer
	Recorder    Recorder
}

// Orchestrator is the entry point for answering queries.
type Orchestrator struct {
	sessions *session.Store
	input    InputGuard
	output   OutputGuard
	synth    Synthesizer
	recorder Recorder
	logger   *slog.Logger
}

func New(d Deps) *Orchestrator {
	return &Orchestrator{
		sessions: d.Sessions,
		input:    d.Input,
		output:   d.Output,
		synth:    d.Synthesizer,
		recorder: d.Recorder,
		logger:   slog.Default(),
	}
}

// run carries per-query state so the deferred bookkeeping in HandleQuery
// sees how far the query got.
type run struct {
	state       State
	sessionID   string
	userID      string
	queryNumber int
	start       time.Time
}

// HandleQuery answers one query. It never returns an error: rejections and
// failures are reported in the Result, and panics become system errors.
func (o *Orchestrator) HandleQuery(ctx context.Context, q Query) (res Result) {
	r := &run{state: StateReceived, userID: q.UserID, start: time.Now()}

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("panic handling query", "state", r.state, "panic", p, "stack", string(debug.Stack()))
			res = failed(r.sessionID, fmt.Errorf("panic: %v", p))
		}
		queriesTotal.WithLabelValues(string(res.State), string(res.ErrorType)).Inc()
		queryDuration.Observe(time.Since(r.start).Seconds())
		o.record(ctx, q, r, res)
	}()

	res, err := o.handle(ctx, q, r)
	if err != nil {
		o.logger.Error("error handling query", "session_id", r.sessionID, "state", r.state, "error", err)
		return failed(r.sessionID, err)
	}
	return res
}

func (o *Orchestrator) handle(ctx context.Context, q Query, r *run) (Result, error) {
	// Received → SessionResolved
	info := o.sessions.Resolve(q.SessionID, q.UserID)
	r.sessionID, r.userID, r.queryNumber = info.ID, info.UserID, info.TotalQueries
	r.state = StateSessionResolved
	SetActiveSessions(o.sessions.Len())

	enhanced := composer.Compose(composer.Input{
		SessionID:   info.ID,
		QueryNumber: info.TotalQueries,
		Context:     session.BuildContext(info.History),
		Query:       q.Text,
	})

	// SessionResolved → InputValidated
	if o.guard(ctx, "input_guardrail", func(ctx context.Context) guardrail.Outcome {
		return o.input.Validate(ctx, q.Text)
	}).Tripped() {
		return rejected(info.ID, ErrorTypeInputValidation, InputRejectedMessage), nil
	}
	r.state = StateInputValidated

	// InputValidated → Synthesized
	tokens := composer.EstimateTokens(enhanced)
	promptTokens.Add(float64(tokens))
	o.logger.Debug("synthesizing", "session_id", info.ID, "query_number", info.TotalQueries, "prompt_tokens_est", tokens)
	start := time.Now()
	sr, err := o.synth.Synthesize(ctx, enhanced)
	stageDuration.WithLabelValues("synthesis").Observe(time.Since(start).Seconds())
	for name, n := range sr.ToolCalls {
		toolInvocations.WithLabelValues(name).Add(float64(n))
	}
	if err != nil {
		return Result{}, err
	}
	if sr.TotalToolCalls() == 0 {
		synthesesWithoutTools.Inc()
	}
	resp := sr.Response
	resp.SessionID = info.ID
	if resp.MemoryInsights == "" {
		resp.MemoryInsights = DefaultMemoryInsights
	}
	if resp.PersonalizedTips == "" {
		resp.PersonalizedTips = DefaultPersonalizedTips
	}
	r.state = StateSynthesized

	// Synthesized → OutputValidated
	if o.guard(ctx, "output_guardrail", func(ctx context.Context) guardrail.Outcome {
		return o.output.Validate(ctx, resp)
	}).Tripped() {
		res := rejected(info.ID, ErrorTypeOutputValidation, OutputRejectedMessage)
		res.ToolCalls = sr.ToolCalls
		return res, nil
	}
	r.state = StateOutputValidated

	// OutputValidated → Completed
	transcript := FormatTranscript(resp, info.TotalQueries)
	if err := o.sessions.AppendExchange(info.ID, q.Text, transcript); err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			return Result{}, fmt.Errorf("appending exchange: %w", err)
		}
		o.logger.Warn("exchange not stored, session no longer exists", "session_id", info.ID)
	}

	after, ok := o.sessions.Snapshot(info.ID)
	if !ok {
		after = info
	}
	r.state = StateCompleted

	return Result{
		Success:            true,
		SessionID:          info.ID,
		Response:           transcript,
		StructuredResponse: &resp,
		SessionInfo:        &after,
		TotalQueries:       after.TotalQueries,
		HasContext:         len(after.History) > 1,
		State:              StateCompleted,
		ToolCalls:          sr.ToolCalls,
	}, nil
}

func (o *Orchestrator) guard(ctx context.Context, stage string, check func(context.Context) guardrail.Outcome) guardrail.Outcome {
	start := time.Now()
	out := check(ctx)
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	guardrailVerdicts.WithLabelValues(stage, out.Verdict.String()).Inc()
	return out
}

func (o *Orchestrator) record(ctx context.Context, q Query, r *run, res Result) {
	if o.recorder == nil || r.sessionID == "" {
		return
	}
	outcome := "completed"
	switch res.State {
	case StateRejected:
		outcome = "rejected"
	case StateFailed:
		outcome = "failed"
	}
	tools, _ := json.Marshal(res.ToolCalls)
	if res.ToolCalls == nil {
		tools = []byte("{}")
	}

	err := o.recorder.SaveInteraction(context.WithoutCancel(ctx), storage.Interaction{
		ID:          uuid.NewString(),
		SessionID:   r.sessionID,
		UserID:      r.userID,
		QueryNumber: r.queryNumber,
		Query:       q.Text,
		Transcript:  res.Response,
		Outcome:     outcome,
		ErrorType:   string(res.ErrorType),
		ToolCalls:   string(tools),
		Duration:    time.Since(r.start),
		CreatedAt:   r.start,
	})
	if err != nil {
		o.logger.Warn("failed to record interaction", "session_id", r.sessionID, "error", err)
	}
}

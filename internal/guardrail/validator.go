package guardrail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/mathcoach/internal/synthesis"
)

// Verdict is the tagged result of a guardrail check.
type Verdict int

const (
	Passed Verdict = iota
	Tripped
	// PassedWithError means the classifier failed and the check failed open.
	PassedWithError
)

func (v Verdict) String() string {
	switch v {
	case Passed:
		return "passed"
	case Tripped:
		return "tripped"
	case PassedWithError:
		return "passed_with_error"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Outcome is what a validator reports.
type Outcome struct {
	Verdict Verdict
	Result  ValidationResult
	Err     error
}

func (o Outcome) Tripped() bool { return o.Verdict == Tripped }

// InputValidator screens raw user queries.
type InputValidator struct {
	c *Classifier
}

func NewInputValidator(client Chatter, model string) *InputValidator {
	return &InputValidator{c: newClassifier(client, model, inputInstructions)}
}

// Validate trips unless the text is both math-related and appropriate.
func (v *InputValidator) Validate(ctx context.Context, text string) Outcome {
	res, err := v.c.Classify(ctx, text)
	if err != nil {
		slog.Error("input guardrail error", "error", err)
		return Outcome{Verdict: PassedWithError, Err: err}
	}
	if !(res.IsSubjectRelevant && res.IsAppropriate) {
		slog.Warn("input rejected", "reasoning", res.Reasoning)
		return Outcome{Verdict: Tripped, Result: res}
	}
	slog.Debug("input validation passed")
	return Outcome{Verdict: Passed, Result: res}
}

// OutputValidator screens synthesized answers.
type OutputValidator struct {
	c *Classifier
}

func NewOutputValidator(client Chatter, model string) *OutputValidator {
	return &OutputValidator{c: newClassifier(client, model, outputInstructions)}
}

const summaryLimit = 200

// Validate trips only when the answer is neither math-related nor appropriate.
func (v *OutputValidator) Validate(ctx context.Context, resp synthesis.StructuredResponse) Outcome {
	res, err := v.c.Classify(ctx, OutputSummary(resp))
	if err != nil {
		slog.Error("output guardrail error", "error", err)
		return Outcome{Verdict: PassedWithError, Err: err}
	}
	if !res.IsSubjectRelevant && !res.IsAppropriate {
		slog.Warn("output rejected", "reasoning", res.Reasoning)
		return Outcome{Verdict: Tripped, Result: res}
	}
	slog.Debug("output validation passed")
	return Outcome{Verdict: Passed, Result: res}
}

// OutputSummary is the text the output classifier sees.
func OutputSummary(resp synthesis.StructuredResponse) string {
	return fmt.Sprintf("Analysis: %s\nSolution: %s\nConcepts: %s",
		head(resp.ProblemAnalysis, summaryLimit),
		head(resp.StepByStepSolution, summaryLimit),
		head(resp.ConceptExplanation, summaryLimit))
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Package guardrail validates queries before synthesis and answers after it
// using a small local classification model.
package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/mathcoach/internal/engine"
)

const classifyTimeout = 20 * time.Second

// Chatter is the interface for chat completion via the local engine.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// ValidationResult is the classifier's verdict on a piece of text.
type ValidationResult struct {
	IsSubjectRelevant bool   `json:"is_subject_relevant"`
	IsAppropriate     bool   `json:"is_appropriate"`
	Reasoning         string `json:"reasoning"`
}

// Classifier asks the local model whether a text is on-topic and appropriate.
type Classifier struct {
	client       Chatter
	model        string
	instructions string
	timeout      time.Duration
}

func newClassifier(client Chatter, model, instructions string) *Classifier {
	return &Classifier{client: client, model: model, instructions: instructions, timeout: classifyTimeout}
}

// Classify returns the model's ValidationResult for subject.
func (c *Classifier) Classify(ctx context.Context, subject string) (ValidationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.client.Chat(ctx, c.model, buildMessages(c.instructions, subject), validationSchema())
	if err != nil {
		return ValidationResult{}, fmt.Errorf("classifier chat: %w", err)
	}
	return decodeResult(raw)
}

// decodeResult accepts the object bare, fenced, or padded with prose. Both
// flags must be present.
func decodeResult(raw string) (ValidationResult, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return ValidationResult{}, errors.New("classifier returned no JSON object")
	}

	var v struct {
		IsSubjectRelevant *bool  `json:"is_subject_relevant"`
		IsAppropriate     *bool  `json:"is_appropriate"`
		Reasoning         string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return ValidationResult{}, fmt.Errorf("decoding classifier result: %w", err)
	}
	if v.IsSubjectRelevant == nil || v.IsAppropriate == nil {
		return ValidationResult{}, errors.New("classifier result missing verdict fields")
	}
	return ValidationResult{
		IsSubjectRelevant: *v.IsSubjectRelevant,
		IsAppropriate:     *v.IsAppropriate,
		Reasoning:         v.Reasoning,
	}, nil
}

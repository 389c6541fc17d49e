// Package synthesis runs the tool-augmented completion loop that turns an
// enhanced query into a StructuredResponse.
package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/mathcoach/internal/composer"
	"github.com/kalambet/mathcoach/internal/proxy"
)

// ErrMaxIterations is returned when the model keeps calling tools past the
// iteration limit without producing a final answer.
var ErrMaxIterations = errors.New("synthesis: max iterations reached")

const (
	DefaultMaxIterations = 8
	DefaultTimeout       = 120 * time.Second
)

// Completer sends one chat completion request.
type Completer interface {
	Complete(ctx context.Context, req proxy.ChatRequest) (proxy.ChatResponse, error)
}

// Config tunes the synthesis loop.
type Config struct {
	Model         string
	MaxIterations int
	Timeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Result is the outcome of one synthesis run.
type Result struct {
	Response StructuredResponse
	// ToolCalls counts invocations per capability name.
	ToolCalls  map[string]int
	Iterations int
	Usage      proxy.Usage
}

// TotalToolCalls sums ToolCalls.
func (r Result) TotalToolCalls() int {
	n := 0
	for _, c := range r.ToolCalls {
		n += c
	}
	return n
}

// Synthesizer drives the completion model through tool calls to a final
// structured answer.
type Synthesizer struct {
	client Completer
	cfg    Config
	caps   map[string]Capability
	tools  []proxy.Tool
	logger *slog.Logger
}

// New creates a Synthesizer offering the given capabilities to the model.
func New(client Completer, cfg Config, caps ...Capability) *Synthesizer {
	s := &Synthesizer{
		client: client,
		cfg:    cfg.withDefaults(),
		caps:   make(map[string]Capability, len(caps)),
		logger: slog.Default(),
	}
	for _, c := range caps {
		s.caps[c.Name()] = c
		s.tools = append(s.tools, proxy.Tool{
			Type: "function",
			Function: proxy.FunctionDef{
				Name:        c.Name(),
				Description: c.Description(),
				Parameters:  c.Parameters(),
			},
		})
	}
	return s
}

// Synthesize answers the enhanced query. The whole loop, tool calls
// included, is bounded by the configured timeout.
func (s *Synthesizer) Synthesize(ctx context.Context, enhancedQuery string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	messages := []proxy.Message{
		{Role: "system", Content: composer.TutorInstructions},
		{Role: "user", Content: enhancedQuery},
	}
	res := Result{ToolCalls: map[string]int{}}

	for i := 0; i < s.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("synthesis: %w", err)
		}

		resp, err := s.client.Complete(ctx, proxy.ChatRequest{
			Model:    s.cfg.Model,
			Messages: messages,
			Tools:    s.tools,
			ResponseFormat: &proxy.ResponseFormat{
				Type:       "json_schema",
				JSONSchema: &proxy.JSONSchema{Name: schemaName, Strict: true, Schema: responseSchema()},
			},
		})
		if err != nil {
			return res, fmt.Errorf("completion: %w", err)
		}
		res.Iterations = i + 1
		addUsage(&res.Usage, resp.Usage)

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			out, err := decodeResponse(msg.Content)
			if err != nil {
				return res, err
			}
			res.Response = out
			if res.TotalToolCalls() == 0 {
				s.logger.Warn("synthesis finished without tool calls", "iterations", res.Iterations)
			}
			return res, nil
		}

		messages = append(messages, proxy.Message{
			Role:      "assistant",
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		})
		for _, tc := range msg.ToolCalls {
			content := s.invoke(ctx, tc)
			res.ToolCalls[tc.Function.Name]++
			messages = append(messages, proxy.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}

	return res, ErrMaxIterations
}

// invoke runs one tool call. Failures become the tool message so the model
// can recover; panics are recovered the same way.
func (s *Synthesizer) invoke(ctx context.Context, tc proxy.ToolCall) (content string) {
	start := time.Now()
	name := tc.Function.Name
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked", "tool", name, "panic", r)
			content = toolError(fmt.Errorf("panic: %v", r))
		}
		s.logger.Debug("tool call", "tool", name, "duration", time.Since(start))
	}()

	c, ok := s.caps[name]
	if !ok {
		s.logger.Warn("model requested unknown tool", "tool", name)
		return toolError(fmt.Errorf("%w %q", errUnknownTool, name))
	}

	args := json.RawMessage(tc.Function.Arguments)
	if len(strings.TrimSpace(tc.Function.Arguments)) == 0 {
		args = json.RawMessage("{}")
	}
	out, err := c.Invoke(ctx, args)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", name, "error", err)
		return toolError(err)
	}
	return out
}

func decodeResponse(content string) (StructuredResponse, error) {
	var out StructuredResponse
	raw := extractJSON(content)
	if raw == "" {
		return out, errors.New("decoding structured response: empty content")
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("decoding structured response: %w", err)
	}
	out.normalize()
	return out, nil
}

// extractJSON trims markdown fences and surrounding prose from a JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func addUsage(total *proxy.Usage, u proxy.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}

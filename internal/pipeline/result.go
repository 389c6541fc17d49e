package pipeline

import (
	"github.com/kalambet/mathcoach/internal/session"
	"github.com/kalambet/mathcoach/internal/synthesis"
)

// ErrorType classifies a failed query for the caller.
type ErrorType string

const (
	ErrorTypeInputValidation  ErrorType = "input_validation"
	ErrorTypeOutputValidation ErrorType = "output_validation"
	ErrorTypeSystem           ErrorType = "system_error"
)

// User-facing messages for failed queries.
const (
	InputRejectedMessage  = "INPUT REJECTED: Please ask math questions only."
	OutputRejectedMessage = "OUTPUT QUALITY CHECK FAILED: Response didn't meet standards. Please try rephrasing."
	systemErrorPrefix     = "SYSTEM ERROR: "
)

// Fallback text for sections the model left empty.
const (
	DefaultMemoryInsights   = "Memory system not available - using session context"
	DefaultPersonalizedTips = "Focus on practice and concept clarity for success"
)

// State is a step of query handling. Completed, Rejected and Failed are
// terminal.
type State string

const (
	StateReceived        State = "received"
	StateSessionResolved State = "session_resolved"
	StateInputValidated  State = "input_validated"
	StateSynthesized     State = "synthesized"
	StateOutputValidated State = "output_validated"
	StateCompleted       State = "completed"
	StateRejected        State = "rejected"
	StateFailed          State = "failed"
)

// Query is one student question.
type Query struct {
	Text      string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Result is the outcome of HandleQuery. Success results carry the
// transcript and structured response; failures carry Error and ErrorType.
type Result struct {
	Success            bool                          `json:"success" yaml:"success"`
	SessionID          string                        `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Response           string                        `json:"response,omitempty" yaml:"response,omitempty"`
	StructuredResponse *synthesis.StructuredResponse `json:"structured_response,omitempty" yaml:"structured_response,omitempty"`
	SessionInfo        *session.Info                 `json:"session_info,omitempty" yaml:"session_info,omitempty"`
	TotalQueries       int                           `json:"total_queries,omitempty" yaml:"total_queries,omitempty"`
	MemoryEnabled      bool                          `json:"memory_enabled" yaml:"memory_enabled"`
	HasContext         bool                          `json:"has_context" yaml:"has_context"`
	Error              string                        `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorType          ErrorType                     `json:"error_type,omitempty" yaml:"error_type,omitempty"`

	// State is the terminal state the query reached.
	State State `json:"-" yaml:"-"`
	// ToolCalls counts capability invocations during synthesis.
	ToolCalls map[string]int `json:"-" yaml:"-"`
}

func rejected(sessionID string, t ErrorType, msg string) Result {
	return Result{SessionID: sessionID, Error: msg, ErrorType: t, State: StateRejected}
}

func failed(sessionID string, err error) Result {
	return Result{SessionID: sessionID, Error: systemErrorPrefix + err.Error(), ErrorType: ErrorTypeSystem, State: StateFailed}
}

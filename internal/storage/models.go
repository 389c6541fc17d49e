package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one handled query as recorded in the interaction log.
type Interaction struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	UserID      string        `json:"user_id"`
	QueryNumber int           `json:"query_number"`
	Query       string        `json:"query"`
	Transcript  string        `json:"transcript,omitempty"`
	Outcome     string        `json:"outcome"` // "completed", "rejected", "failed"
	ErrorType   string        `json:"error_type,omitempty"`
	ToolCalls   string        `json:"tool_calls"` // JSON object of tool name to invocation count
	Duration    time.Duration `json:"duration_ns"`
	CreatedAt   time.Time     `json:"created_at"`
}

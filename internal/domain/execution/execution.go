// Package execution defines domain types for MCP tool executions.
// An Execution is one invocation of a named tool against an MCP server,
// identified by a backend-assigned id. Status values are validated once
// at the API boundary; internal code never re-checks shape.
package execution

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain"
)

// Status is the lifecycle state of a tool execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// validStatuses is the set of recognized execution statuses.
var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusRunning:   true,
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
	StatusTimeout:   true,
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// ParseStatus validates a wire-level status string. Returns a
// domain.ErrValidation-wrapped error for unrecognized values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", fmt.Errorf("%w: unknown execution status %q", domain.ErrValidation, s)
	}
	return st, nil
}

// Execution represents one tool invocation tracked by the client core.
// Once Status reaches a terminal value it never transitions again; the
// backend is the sole source of truth for status.
type Execution struct {
	ID             string          `json:"execution_id"`
	ToolName       string          `json:"tool_name"`
	ServerID       string          `json:"server_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Status         Status          `json:"status"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	DurationMS     *int64          `json:"duration_ms,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
}

// Merge folds an authoritative backend record into e. Identity fields
// are kept from e; status, result, error and duration come from the
// backend record. Merging the same record twice yields the same state
// (idempotent, last-write-wins). A terminal local status is pinned and
// never overwritten.
func (e *Execution) Merge(rec Execution) {
	if e.Status.IsTerminal() {
		return
	}
	e.Status = rec.Status
	if rec.Result != nil {
		e.Result = rec.Result
	}
	if rec.ErrorMessage != "" {
		e.ErrorMessage = rec.ErrorMessage
	}
	if rec.DurationMS != nil {
		e.DurationMS = rec.DurationMS
	}
}

// Request describes one tool-execution request. It exists only for the
// duration of the ExecuteTool call and is never persisted.
type Request struct {
	ToolName        string          `json:"tool_name"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	ServerID        string          `json:"server_id,omitempty"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	AutoApprove     bool            `json:"auto_approve,omitempty"`
	RequireApproval bool            `json:"require_approval,omitempty"`
}

// Validate checks required request fields. Returns a
// domain.ErrValidation-wrapped error on failure.
func (r *Request) Validate() error {
	if r.ToolName == "" {
		return fmt.Errorf("%w: tool_name is required", domain.ErrValidation)
	}
	return nil
}

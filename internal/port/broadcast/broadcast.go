// Package broadcast defines the port for pushing real-time events to
// connected GUI clients, and the event vocabulary services emit.
package broadcast

import (
	"context"
	"time"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Event type constants for pushed messages.
const (
	EventExecutionRegistered = "execution.registered"
	EventExecutionStatus     = "execution.status"
	EventServerLog           = "server.log"
	EventApprovalChanged     = "approval.changed"
	EventStreamState         = "stream.state"
)

// ExecutionRegisteredEvent is pushed when a new execution is accepted
// by the backend and starts being tracked.
type ExecutionRegisteredEvent struct {
	ExecutionID    string `json:"execution_id"`
	ToolName       string `json:"tool_name"`
	ServerID       string `json:"server_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Status         string `json:"status"`
}

// ExecutionStatusEvent is pushed when a tracked execution's status changes.
type ExecutionStatusEvent struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Terminal    bool   `json:"terminal"`
}

// ServerLogEvent is pushed for each live log entry received from a
// server stream.
type ServerLogEvent struct {
	ServerID  string    `json:"server_id"`
	LogType   string    `json:"log_type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ApprovalChangedEvent is pushed when an approval record is created,
// updated, or removed.
type ApprovalChangedEvent struct {
	ServerID string `json:"server_id"`
	ToolName string `json:"tool_name"`
	Scope    string `json:"scope"`
	Approved bool   `json:"approved"`
}

// StreamStateEvent is pushed when a server log stream's connection
// state changes.
type StreamStateEvent struct {
	ServerID string `json:"server_id"`
	State    string `json:"state"`
}

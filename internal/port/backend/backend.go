// Package backend defines the port interfaces for the chat backend API.
// The backend is the sole source of truth for persisted executions and
// approvals; mcpgate only mirrors and coordinates them.
package backend

import (
	"context"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain/approval"
	"github.com/mcpgate/mcpgate/internal/domain/execution"
	"github.com/mcpgate/mcpgate/internal/domain/serverlog"
)

// ListLogsQuery narrows a ListExecutionLogs call. Zero values mean
// "no filter"; Page/PerPage follow the backend's pagination defaults.
type ListLogsQuery struct {
	Page     int
	PerPage  int
	Status   execution.Status
	ServerID string
}

// Executions is the port for tool execution calls.
type Executions interface {
	// ExecuteTool issues the remote execute call and returns the
	// backend-registered execution record.
	ExecuteTool(ctx context.Context, req execution.Request) (execution.Execution, error)
	// GetExecutionLog fetches the authoritative record for one execution.
	GetExecutionLog(ctx context.Context, id string) (execution.Execution, error)
	// CancelExecution asks the backend to cancel a running execution.
	CancelExecution(ctx context.Context, id string) error
	// ListExecutionLogs returns the aggregate execution log list.
	ListExecutionLogs(ctx context.Context, q ListLogsQuery) ([]execution.Execution, error)
	// ListThreadExecutionLogs returns executions for one conversation thread.
	ListThreadExecutionLogs(ctx context.Context, threadID string) ([]execution.Execution, error)
}

// SetGlobalRequest carries a global approval update.
type SetGlobalRequest struct {
	Approved    bool
	AutoApprove bool
	ExpiresAt   *time.Time
}

// Approvals is the port for tool approval calls.
type Approvals interface {
	// CheckToolApproval asks the backend whether the tool is approved
	// for the conversation (conversation scope wins over global).
	CheckToolApproval(ctx context.Context, conversationID, serverID, toolName string) (approval.CheckResult, error)
	// SetToolGlobalApproval creates or updates a global approval record.
	SetToolGlobalApproval(ctx context.Context, serverID, toolName string, req SetGlobalRequest) error
	// RemoveGlobalToolApproval deletes a global approval record.
	RemoveGlobalToolApproval(ctx context.Context, serverID, toolName string) error
	// CreateConversationApproval creates or updates a conversation-scoped record.
	CreateConversationApproval(ctx context.Context, rec approval.Record) error
	// CleanExpiredApprovals bulk-purges expired records, returning the count.
	CleanExpiredApprovals(ctx context.Context) (int, error)
}

// LogStreamer is the port for per-server live log subscriptions.
type LogStreamer interface {
	// StreamServerLogs opens a long-lived subscription for one server.
	// Entries arrive on the returned channel in arrival order; the
	// channel is closed when the stream ends or ctx is cancelled.
	StreamServerLogs(ctx context.Context, serverID string) (<-chan serverlog.Entry, error)
}

// Package approval defines domain types for MCP tool approvals.
// An approval is an authorization decision for a (server, tool) pair,
// scoped to one conversation or applied globally.
package approval

import (
	"fmt"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain"
)

// Scope identifies whether a record applies to one conversation or globally.
type Scope string

const (
	ScopeConversation Scope = "conversation"
	ScopeGlobal       Scope = "global"
)

// Source identifies which record answered an approval check.
type Source string

const (
	SourceConversation Source = "conversation"
	SourceGlobal       Source = "global"
	SourceNone         Source = "none"
)

// Record is one authorization decision. A record with a past expiry is
// treated as absent even if not yet purged.
type Record struct {
	ServerID       string     `json:"server_id"`
	ToolName       string     `json:"tool_name"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Approved       bool       `json:"approved"`
	AutoApprove    bool       `json:"auto_approve"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Scope          Scope      `json:"scope"`
}

// Expired reports whether the record's expiry has passed as of now.
// Records without an expiry never expire.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Validate checks required record fields. Returns a
// domain.ErrValidation-wrapped error on failure.
func (r *Record) Validate() error {
	if r.ServerID == "" {
		return fmt.Errorf("%w: server_id is required", domain.ErrValidation)
	}
	if r.ToolName == "" {
		return fmt.Errorf("%w: tool_name is required", domain.ErrValidation)
	}
	if r.Scope != ScopeConversation && r.Scope != ScopeGlobal {
		return fmt.Errorf("%w: invalid scope %q", domain.ErrValidation, r.Scope)
	}
	if r.Scope == ScopeConversation && r.ConversationID == "" {
		return fmt.Errorf("%w: conversation_id is required for conversation scope", domain.ErrValidation)
	}
	return nil
}

// CheckResult is the outcome of an approval check.
type CheckResult struct {
	Approved bool   `json:"approved"`
	Source   Source `json:"source"`
}

// Key builds the canonical (server, tool) key used by caches and maps.
func Key(serverID, toolName string) string {
	return serverID + "/" + toolName
}

// ConversationKey builds the (conversation, server, tool) key.
func ConversationKey(conversationID, serverID, toolName string) string {
	return conversationID + "/" + serverID + "/" + toolName
}

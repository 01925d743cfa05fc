// Package serverlog defines domain types for live MCP server log streams.
// Entries arrive over a per-server subscription; arrival order is the
// authoritative display order even when timestamps are out of order.
package serverlog

import (
	"fmt"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain"
)

// Type categorizes a log line by the server activity that produced it.
type Type string

const (
	TypeExec Type = "exec"
	TypeIn   Type = "in"
	TypeOut  Type = "out"
	TypeErr  Type = "err"
)

// validTypes is the set of recognized log types.
var validTypes = map[Type]bool{
	TypeExec: true,
	TypeIn:   true,
	TypeOut:  true,
	TypeErr:  true,
}

// ParseType validates a wire-level log type string. Returns a
// domain.ErrValidation-wrapped error for unrecognized values.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !validTypes[t] {
		return "", fmt.Errorf("%w: unknown log type %q", domain.ErrValidation, s)
	}
	return t, nil
}

// Entry is one line of server activity from a live log stream.
type Entry struct {
	ServerID  string    `json:"server_id"`
	Type      Type      `json:"log_type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Package http provides the local API surface the chat GUI talks to:
// tool execution, approvals, and server log streams.
package http

import (
	"net/http"
	"time"

	"github.com/mcpgate/mcpgate/internal/service"
)

// Handlers bundles the services exposed over the local API.
type Handlers struct {
	Tracker   *service.TrackerService
	Approvals *service.ApprovalService
	Streams   *service.StreamService

	// BreakerState reports the backend circuit state for health checks.
	BreakerState func() string

	startedAt time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(tracker *service.TrackerService, approvals *service.ApprovalService, streams *service.StreamService) *Handlers {
	return &Handlers{
		Tracker:   tracker,
		Approvals: approvals,
		Streams:   streams,
		startedAt: time.Now(),
	}
}

// Health handles GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	}
	if h.BreakerState != nil {
		state := h.BreakerState()
		resp["backend"] = state
		if state == "open" {
			resp["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

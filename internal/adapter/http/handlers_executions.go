package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mcpgate/mcpgate/internal/domain/execution"
	backendPort "github.com/mcpgate/mcpgate/internal/port/backend"
)

// ExecuteTool handles POST /api/v1/executions
func (h *Handlers) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[execution.Request](w, r)
	if !ok {
		return
	}
	ex, err := h.Tracker.ExecuteTool(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "execute tool")
		return
	}
	writeJSON(w, http.StatusCreated, ex)
}

// GetExecution handles GET /api/v1/executions/{id}
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ex, err := h.Tracker.Get(id)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// RefreshExecution handles POST /api/v1/executions/{id}/refresh
// Forces one immediate status fetch instead of waiting for the next poll.
func (h *Handlers) RefreshExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ex, err := h.Tracker.FetchStatus(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// CancelExecution handles POST /api/v1/executions/{id}/cancel
func (h *Handlers) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Tracker.CancelExecution(r.Context(), id); err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	ex, err := h.Tracker.Get(id)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// ListExecutions handles GET /api/v1/executions
// Returns the tracked aggregate log; ?refresh=true reloads it from the
// backend first, with optional page/per_page/status/server_id filters
// passed through.
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("refresh") == "true" {
		query := backendPort.ListLogsQuery{
			ServerID: q.Get("server_id"),
		}
		if s := q.Get("status"); s != "" {
			st, err := execution.ParseStatus(s)
			if err != nil {
				writeDomainError(w, err, "invalid status")
				return
			}
			query.Status = st
		}
		if p := q.Get("page"); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				query.Page = n
			}
		}
		if pp := q.Get("per_page"); pp != "" {
			if n, err := strconv.Atoi(pp); err == nil {
				query.PerPage = n
			}
		}
		if err := h.Tracker.RefreshLogs(r.Context(), query); err != nil {
			writeDomainError(w, err, "refresh executions")
			return
		}
	}

	logs := h.Tracker.Logs()
	if s := q.Get("status"); s != "" {
		if st, err := execution.ParseStatus(s); err == nil {
			logs = h.Tracker.ByStatus(st)
		}
	}
	if logs == nil {
		logs = []execution.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": logs})
}

// ListActiveExecutions handles GET /api/v1/executions/active
func (h *Handlers) ListActiveExecutions(w http.ResponseWriter, _ *http.Request) {
	active := h.Tracker.Active()
	if active == nil {
		active = []execution.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": active})
}

// ListThreadExecutions handles GET /api/v1/threads/{id}/executions
// Reloads the conversation's execution log from the backend and returns it.
func (h *Handlers) ListThreadExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logs, err := h.Tracker.RefreshThreadLogs(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "thread not found")
		return
	}
	if logs == nil {
		logs = []execution.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": logs})
}

// ToolBusy handles GET /api/v1/tools/{name}/busy
// Coarse per-tool-name flag the GUI uses to disable a tool's button.
func (h *Handlers) ToolBusy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	writeJSON(w, http.StatusOK, map[string]bool{"executing": h.Tracker.IsToolExecuting(name)})
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcpgate/mcpgate/internal/domain/serverlog"
	"github.com/mcpgate/mcpgate/internal/service"
)

// SubscribeServerLogs handles POST /api/v1/servers/{id}/logs/subscribe
func (h *Handlers) SubscribeServerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Streams.Subscribe(id); err != nil {
		writeDomainError(w, err, "subscribe server logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.Streams.State(id))})
}

// DisconnectServerLogs handles POST /api/v1/servers/{id}/logs/disconnect
func (h *Handlers) DisconnectServerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.Streams.Disconnect(id)
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.Streams.State(id))})
}

// ReconnectServerLogs handles POST /api/v1/servers/{id}/logs/reconnect
func (h *Handlers) ReconnectServerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Streams.Reconnect(id); err != nil {
		writeDomainError(w, err, "reconnect server logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.Streams.State(id))})
}

// GetServerLogs handles GET /api/v1/servers/{id}/logs
// Returns the buffered entries; ?filtered=true applies the server's
// selected-type preferences without consuming the buffer.
func (h *Handlers) GetServerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var entries []serverlog.Entry
	if r.URL.Query().Get("filtered") == "true" {
		entries = h.Streams.FilteredEntries(id)
	} else {
		entries = h.Streams.Entries(id)
	}
	if entries == nil {
		entries = []serverlog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   h.Streams.State(id),
		"entries": entries,
	})
}

// ClearServerLogs handles DELETE /api/v1/servers/{id}/logs
func (h *Handlers) ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	h.Streams.Clear(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// GetStreamPrefs handles GET /api/v1/servers/{id}/logs/prefs
func (h *Handlers) GetStreamPrefs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Streams.Prefs(chi.URLParam(r, "id")))
}

// UpdateStreamPrefs handles PUT /api/v1/servers/{id}/logs/prefs
func (h *Handlers) UpdateStreamPrefs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	prefs, ok := readJSON[service.StreamPrefs](w, r)
	if !ok {
		return
	}
	for _, t := range prefs.SelectedTypes {
		if _, err := serverlog.ParseType(string(t)); err != nil {
			writeDomainError(w, err, "invalid log type")
			return
		}
	}
	h.Streams.UpdatePrefs(id, prefs)
	writeJSON(w, http.StatusOK, prefs)
}

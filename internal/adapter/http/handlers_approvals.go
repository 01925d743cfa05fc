package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mcpgate/mcpgate/internal/domain/approval"
	backendPort "github.com/mcpgate/mcpgate/internal/port/backend"
)

// CheckApproval handles GET /api/v1/approvals/check
func (h *Handlers) CheckApproval(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	serverID := q.Get("server_id")
	toolName := q.Get("tool_name")
	if !requireField(w, serverID, "server_id") || !requireField(w, toolName, "tool_name") {
		return
	}
	res, err := h.Approvals.CheckApproval(r.Context(), q.Get("conversation_id"), serverID, toolName)
	if err != nil {
		writeDomainError(w, err, "check approval")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type setGlobalApprovalRequest struct {
	Approved    bool       `json:"approved"`
	AutoApprove bool       `json:"auto_approve"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// SetGlobalApproval handles PUT /api/v1/servers/{id}/tools/{name}/approval
func (h *Handlers) SetGlobalApproval(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	toolName := chi.URLParam(r, "name")
	req, ok := readJSON[setGlobalApprovalRequest](w, r)
	if !ok {
		return
	}
	err := h.Approvals.SetGlobalApproval(r.Context(), serverID, toolName, backendPort.SetGlobalRequest{
		Approved:    req.Approved,
		AutoApprove: req.AutoApprove,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeDomainError(w, err, "set global approval")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"approved": req.Approved})
}

// RemoveGlobalApproval handles DELETE /api/v1/servers/{id}/tools/{name}/approval
func (h *Handlers) RemoveGlobalApproval(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	toolName := chi.URLParam(r, "name")
	if err := h.Approvals.RemoveGlobalApproval(r.Context(), serverID, toolName); err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateConversationApproval handles POST /api/v1/conversations/{id}/approvals
func (h *Handlers) CreateConversationApproval(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	rec, ok := readJSON[approval.Record](w, r)
	if !ok {
		return
	}
	rec.ConversationID = conversationID
	if err := h.Approvals.ApproveForConversation(r.Context(), rec); err != nil {
		writeDomainError(w, err, "create conversation approval")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// CleanExpiredApprovals handles POST /api/v1/approvals/clean-expired
func (h *Handlers) CleanExpiredApprovals(w http.ResponseWriter, r *http.Request) {
	count, err := h.Approvals.CleanExpired(r.Context())
	if err != nil {
		writeDomainError(w, err, "clean expired approvals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleaned_count": count})
}

// ClearApprovalCache handles POST /api/v1/approvals/clear-cache
func (h *Handlers) ClearApprovalCache(w http.ResponseWriter, _ *http.Request) {
	h.Approvals.ClearCheckCache()
	w.WriteHeader(http.StatusNoContent)
}

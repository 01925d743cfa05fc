package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, wsHandler http.HandlerFunc) {
	r.Get("/healthz", h.Health)
	r.Get("/ws", wsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Executions
		r.Post("/executions", h.ExecuteTool)
		r.Get("/executions", h.ListExecutions)
		r.Get("/executions/active", h.ListActiveExecutions)
		r.Get("/executions/{id}", h.GetExecution)
		r.Post("/executions/{id}/refresh", h.RefreshExecution)
		r.Post("/executions/{id}/cancel", h.CancelExecution)
		r.Get("/threads/{id}/executions", h.ListThreadExecutions)
		r.Get("/tools/{name}/busy", h.ToolBusy)

		// Approvals
		r.Get("/approvals/check", h.CheckApproval)
		r.Post("/approvals/clean-expired", h.CleanExpiredApprovals)
		r.Post("/approvals/clear-cache", h.ClearApprovalCache)
		r.Put("/servers/{id}/tools/{name}/approval", h.SetGlobalApproval)
		r.Delete("/servers/{id}/tools/{name}/approval", h.RemoveGlobalApproval)
		r.Post("/conversations/{id}/approvals", h.CreateConversationApproval)

		// Server log streams
		r.Get("/servers/{id}/logs", h.GetServerLogs)
		r.Delete("/servers/{id}/logs", h.ClearServerLogs)
		r.Post("/servers/{id}/logs/subscribe", h.SubscribeServerLogs)
		r.Post("/servers/{id}/logs/disconnect", h.DisconnectServerLogs)
		r.Post("/servers/{id}/logs/reconnect", h.ReconnectServerLogs)
		r.Get("/servers/{id}/logs/prefs", h.GetStreamPrefs)
		r.Put("/servers/{id}/logs/prefs", h.UpdateStreamPrefs)
	})
}

// Package ws implements the WebSocket adapter pushing real-time MCP
// events to the connected GUI.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single event write so one stalled GUI tab
// cannot hold up the broadcast fan-out.
const writeTimeout = 5 * time.Second

// envelope is the wire form of every pushed event. The payload is
// marshaled inline together with its type tag and send time.
type envelope struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// session is one connected GUI tab.
type session struct {
	id     uint64
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub fans events out to every connected GUI session. It implements
// the broadcast port; services never see connection state.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uint64]*session
	nextID   uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[uint64]*session)}
}

// HandleWS upgrades the request and registers the session until the
// peer disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())

	h.mu.Lock()
	h.nextID++
	s := &session{id: h.nextID, ws: c, cancel: cancel}
	h.sessions[s.id] = s
	h.mu.Unlock()

	slog.Info("gui session connected", "session", s.id, "remote", r.RemoteAddr)
	go h.readUntilClosed(ctx, s)
}

// readUntilClosed consumes inbound frames, which the GUI only sends as
// pings, and tears the session down when the read fails.
func (h *Hub) readUntilClosed(ctx context.Context, s *session) {
	defer func() {
		h.drop(s.id)
		_ = s.ws.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		if _, _, err := s.ws.Read(ctx); err != nil {
			return
		}
	}
}

// BroadcastEvent pushes one typed event to every session. Sessions
// whose write fails or times out are dropped; the GUI reconnects and
// re-fetches state, so there is no per-session retry.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(envelope{Type: eventType, At: time.Now().UTC(), Payload: payload})
	if err != nil {
		slog.Error("websocket event marshal failed", "type", eventType, "error", err)
		return
	}

	var dead []uint64
	h.mu.RLock()
	for id, s := range h.sessions {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := s.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "session", id, "error", err)
			dead = append(dead, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range dead {
		h.drop(id)
	}
}

// Sessions returns the number of connected GUI sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) drop(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[id]; ok {
		s.cancel()
		delete(h.sessions, id)
		slog.Info("gui session disconnected", "session", id)
	}
}

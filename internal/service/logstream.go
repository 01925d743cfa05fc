package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain"
	"github.com/mcpgate/mcpgate/internal/domain/serverlog"
	backendPort "github.com/mcpgate/mcpgate/internal/port/backend"
	"github.com/mcpgate/mcpgate/internal/port/broadcast"
	"github.com/mcpgate/mcpgate/internal/telemetry"
)

// StreamState is the connection state of one server's log stream.
type StreamState string

const (
	StateDisconnected StreamState = "disconnected"
	StateConnecting   StreamState = "connecting"
	StateConnected    StreamState = "connected"
	StateError        StreamState = "error"
)

// StreamPrefs are per-server display preferences. They live on the
// stream so they survive panel switches in the GUI; they never affect
// what gets buffered.
type StreamPrefs struct {
	AutoScroll    bool            `json:"auto_scroll"`
	SelectedTypes []serverlog.Type `json:"selected_types,omitempty"`
}

// serverStream is the per-server stream bookkeeping. Entries are kept
// in arrival order regardless of their embedded timestamps.
type serverStream struct {
	entries []serverlog.Entry
	state   StreamState
	prefs   StreamPrefs
	cancel  context.CancelFunc
	// closed when the stream's run goroutine exits; Reconnect waits on
	// it so two streams never overlap on one server id
	done chan struct{}
}

// StreamService manages live log subscriptions, one per MCP server.
// Each server gets an independent buffer, connection state, and
// display preferences; streams never share state.
type StreamService struct {
	mu      sync.Mutex
	streams map[string]*serverStream

	streamer       backendPort.LogStreamer
	bus            broadcast.Broadcaster
	metrics        *telemetry.Metrics
	reconnectDelay time.Duration
	maxBuffer      int

	// base context for subscriptions, detached from any request
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const defaultMaxBuffer = 5000

// NewStreamService creates a StreamService using the given streamer
// port and reconnect delay.
func NewStreamService(streamer backendPort.LogStreamer, reconnectDelay time.Duration) *StreamService {
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamService{
		streams:        make(map[string]*serverStream),
		streamer:       streamer,
		reconnectDelay: reconnectDelay,
		maxBuffer:      defaultMaxBuffer,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// SetBroadcaster wires the GUI push channel. Optional.
func (s *StreamService) SetBroadcaster(bus broadcast.Broadcaster) {
	s.bus = bus
}

// SetMetrics attaches metric instruments. Optional.
func (s *StreamService) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Subscribe opens a live log stream for a server. Subscribing to an
// already-subscribed server is a no-op; the existing buffer and
// preferences are kept.
func (s *StreamService) Subscribe(serverID string) error {
	if serverID == "" {
		return fmt.Errorf("%w: server id is required", domain.ErrValidation)
	}

	s.mu.Lock()
	st, ok := s.streams[serverID]
	if ok && st.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	if !ok {
		st = &serverStream{state: StateDisconnected, prefs: StreamPrefs{AutoScroll: true}}
		s.streams[serverID] = st
	}
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	st.cancel = cancel
	st.done = done
	st.state = StateConnecting
	s.mu.Unlock()

	s.pushState(serverID, StateConnecting)

	s.wg.Add(1)
	go s.run(ctx, serverID, done)
	return nil
}

// run owns one server's subscription: connect once, drain until the
// stream ends or the subscription is cancelled. Reconnecting is a
// manual operation; a dropped or failed stream parks in the error
// state until the GUI asks for it again.
func (s *StreamService) run(ctx context.Context, serverID string, done chan struct{}) {
	defer close(done)
	defer s.wg.Done()

	ch, err := s.streamer.StreamServerLogs(ctx, serverID)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("log stream connect failed", "server_id", serverID, "error", err)
			s.fail(serverID)
		}
		return
	}

	s.setState(serverID, StateConnected)
	slog.Info("log stream connected", "server_id", serverID)

	for entry := range ch {
		s.append(ctx, serverID, entry)
	}
	if ctx.Err() != nil {
		return
	}

	slog.Warn("log stream dropped", "server_id", serverID)
	s.fail(serverID)
}

// fail marks a stream errored and releases its subscription slot so a
// later Subscribe or Reconnect can reopen it.
func (s *StreamService) fail(serverID string) {
	s.mu.Lock()
	st, ok := s.streams[serverID]
	if ok {
		if st.cancel != nil {
			st.cancel()
			st.cancel = nil
		}
		st.state = StateError
	}
	s.mu.Unlock()
	if ok {
		s.pushState(serverID, StateError)
	}
}

func (s *StreamService) countReconnect(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.StreamReconnects.Add(ctx, 1)
	}
}

// append buffers one entry in arrival order and pushes it to the GUI.
func (s *StreamService) append(ctx context.Context, serverID string, entry serverlog.Entry) {
	s.mu.Lock()
	st, ok := s.streams[serverID]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.entries = append(st.entries, entry)
	if len(st.entries) > s.maxBuffer {
		st.entries = st.entries[len(st.entries)-s.maxBuffer:]
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.BroadcastEvent(ctx, broadcast.EventServerLog, broadcast.ServerLogEvent{
			ServerID:  entry.ServerID,
			LogType:   string(entry.Type),
			Level:     entry.Level,
			Message:   entry.Message,
			Timestamp: entry.Timestamp,
		})
	}
}

func (s *StreamService) setState(serverID string, state StreamState) {
	s.mu.Lock()
	st, ok := s.streams[serverID]
	if ok {
		st.state = state
	}
	s.mu.Unlock()
	if ok {
		s.pushState(serverID, state)
	}
}

func (s *StreamService) pushState(serverID string, state StreamState) {
	if s.bus != nil {
		s.bus.BroadcastEvent(context.Background(), broadcast.EventStreamState, broadcast.StreamStateEvent{
			ServerID: serverID,
			State:    string(state),
		})
	}
}

// Disconnect stops a server's subscription. The buffer and preferences
// are kept so a later Subscribe resumes with history intact.
// Disconnecting a server that was never subscribed is a no-op.
func (s *StreamService) Disconnect(serverID string) {
	s.mu.Lock()
	st, ok := s.streams[serverID]
	if !ok || st.cancel == nil {
		s.mu.Unlock()
		return
	}
	st.cancel()
	st.cancel = nil
	st.state = StateDisconnected
	s.mu.Unlock()

	s.pushState(serverID, StateDisconnected)
	slog.Info("log stream disconnected", "server_id", serverID)
}

// Reconnect drops and re-opens a server's subscription, keeping the
// buffer. Used by the GUI's manual reconnect button and to recover a
// stream parked in the error state. It waits for the old goroutine to
// exit and then the fixed teardown delay before reopening, so two live
// streams never overlap on one server id.
func (s *StreamService) Reconnect(serverID string) error {
	s.mu.Lock()
	var done chan struct{}
	if st, ok := s.streams[serverID]; ok {
		done = st.done
	}
	s.mu.Unlock()

	s.Disconnect(serverID)
	if done != nil {
		<-done
	}
	time.Sleep(s.reconnectDelay)

	s.countReconnect(context.Background())
	return s.Subscribe(serverID)
}

// Clear empties a server's log buffer. Connection state and
// preferences are untouched.
func (s *StreamService) Clear(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[serverID]; ok {
		st.entries = nil
	}
}

// UpdatePrefs replaces a server's display preferences. Creates the
// stream record if the server was never subscribed, so preferences can
// be set ahead of the first connect.
func (s *StreamService) UpdatePrefs(serverID string, prefs StreamPrefs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[serverID]
	if !ok {
		st = &serverStream{state: StateDisconnected}
		s.streams[serverID] = st
	}
	st.prefs = prefs
}

// Prefs returns a server's display preferences.
func (s *StreamService) Prefs(serverID string) StreamPrefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[serverID]; ok {
		return st.prefs
	}
	return StreamPrefs{AutoScroll: true}
}

// State returns a server's connection state.
func (s *StreamService) State(serverID string) StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[serverID]; ok {
		return st.state
	}
	return StateDisconnected
}

// Entries returns a snapshot of a server's buffered entries in arrival
// order. The buffer is not consumed.
func (s *StreamService) Entries(serverID string) []serverlog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[serverID]
	if !ok {
		return nil
	}
	out := make([]serverlog.Entry, len(st.entries))
	copy(out, st.entries)
	return out
}

// FilteredEntries returns the buffered entries matching the server's
// selected log types. An empty selection means no filter.
func (s *StreamService) FilteredEntries(serverID string) []serverlog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[serverID]
	if !ok {
		return nil
	}
	if len(st.prefs.SelectedTypes) == 0 {
		out := make([]serverlog.Entry, len(st.entries))
		copy(out, st.entries)
		return out
	}
	want := make(map[serverlog.Type]bool, len(st.prefs.SelectedTypes))
	for _, t := range st.prefs.SelectedTypes {
		want[t] = true
	}
	var out []serverlog.Entry
	for _, e := range st.entries {
		if want[e.Type] {
			out = append(out, e)
		}
	}
	return out
}

// Shutdown cancels every subscription and waits for the run loops to
// exit.
func (s *StreamService) Shutdown() {
	s.cancel()
	s.mu.Lock()
	for _, st := range s.streams {
		if st.cancel != nil {
			st.cancel()
			st.cancel = nil
		}
		st.state = StateDisconnected
	}
	s.mu.Unlock()
	s.wg.Wait()
}

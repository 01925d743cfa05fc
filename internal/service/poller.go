package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain"
	"github.com/mcpgate/mcpgate/internal/domain/execution"
	"github.com/mcpgate/mcpgate/internal/resilience"
	"github.com/mcpgate/mcpgate/internal/telemetry"
)

// defaultFetchLimit bounds how many poll fetches may hit the backend
// at the same time when many executions are in flight.
const defaultFetchLimit = 8

// PollerService re-fetches the status of in-flight executions on a
// fixed interval until they reach a terminal state. One timer exists
// per execution id; Track is idempotent, so the double-registration
// race (execute response racing a list refresh) collapses to a single
// poll loop per execution.
type PollerService struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	tracker  *TrackerService
	interval time.Duration
	fetches  *resilience.Pool
	metrics  *telemetry.Metrics

	// base context for poll fetches, detached from any request
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPollerService creates a PollerService polling through the given
// tracker at the given fixed interval.
func NewPollerService(tracker *TrackerService, interval time.Duration) *PollerService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PollerService{
		timers:   make(map[string]*time.Timer),
		tracker:  tracker,
		interval: interval,
		fetches:  resilience.NewPool(defaultFetchLimit),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetFetchLimit replaces the bound on concurrent backend fetches.
// Call before Track or Resume.
func (s *PollerService) SetFetchLimit(limit int) {
	s.fetches = resilience.NewPool(limit)
}

// SetMetrics attaches metric instruments. Optional.
func (s *PollerService) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Track starts polling the given execution id. Calling Track for an id
// that already has a pending timer is a no-op.
func (s *PollerService) Track(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.timers[id]; ok {
		return
	}
	// The wait-group slot is taken when the timer is armed, not when it
	// fires; an Add racing Stop's Wait is documented WaitGroup misuse.
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(s.interval, func() { s.poll(id) })
	slog.Debug("poll scheduled", "execution_id", id, "interval", s.interval)
}

// Forget cancels the pending poll timer for an execution id, if any.
// Called when an execution reaches a terminal state through a path
// other than polling, such as an explicit cancel.
func (s *PollerService) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		// Stop reports whether it beat the timer to firing; if it lost,
		// the running poll releases the slot itself.
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
}

// Resume re-registers poll timers for every active execution the
// tracker knows about. Called at startup after the initial log refresh
// so executions that were in flight before a restart keep polling.
func (s *PollerService) Resume() {
	for _, id := range s.tracker.ActiveIDs() {
		s.Track(id)
	}
}

// Stop cancels all pending timers and waits for in-progress polls to
// finish. The poller cannot be restarted.
func (s *PollerService) Stop() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// poll runs one fetch for an execution and either stops (terminal,
// untracked, or poller closed) or schedules the next tick. Fetch
// failures are logged and retried on the next tick; the backend is
// authoritative, so giving up early would strand the execution as
// active forever.
func (s *PollerService) poll(id string) {
	defer s.wg.Done()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()

	if s.metrics != nil {
		s.metrics.PollFetches.Add(ctx, 1)
	}

	var snap execution.Execution
	err := s.fetches.Run(ctx, func() error {
		var ferr error
		snap, ferr = s.tracker.FetchStatus(ctx, id)
		return ferr
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The backend no longer knows the execution, or the tracker
			// dropped it. Nothing left to poll.
			slog.Warn("poll target gone", "execution_id", id)
			return
		}
		slog.Warn("poll fetch failed", "execution_id", id, "error", err)
		s.reschedule(id)
		return
	}

	if snap.Status.IsTerminal() {
		slog.Debug("poll finished", "execution_id", id, "status", snap.Status)
		return
	}
	s.reschedule(id)
}

func (s *PollerService) reschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.timers[id]; ok {
		// Someone re-tracked the id while the fetch ran; their timer wins.
		return
	}
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(s.interval, func() { s.poll(id) })
}

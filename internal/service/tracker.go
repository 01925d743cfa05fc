package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain"
	"github.com/mcpgate/mcpgate/internal/domain/approval"
	"github.com/mcpgate/mcpgate/internal/domain/execution"
	backendPort "github.com/mcpgate/mcpgate/internal/port/backend"
	"github.com/mcpgate/mcpgate/internal/port/broadcast"
	"github.com/mcpgate/mcpgate/internal/telemetry"
)

// Scheduler arranges follow-up status polls for an execution id.
// The poller implements it; a no-op default keeps the tracker usable
// in isolation.
type Scheduler interface {
	Track(id string)
	Forget(id string)
}

type noopScheduler struct{}

func (noopScheduler) Track(string)  {}
func (noopScheduler) Forget(string) {}

// TrackerService owns the in-memory execution state: the set of
// executions still in flight, the aggregate execution log list, and the
// per-conversation log lists. All status updates funnel through
// ApplyStatus so the three views never disagree about an execution's
// terminal state.
type TrackerService struct {
	mu sync.RWMutex
	// executions not yet known to be terminal, by id
	active map[string]*execution.Execution
	// aggregate execution log, newest first
	logs []*execution.Execution
	// per-conversation execution log, newest first
	threadLogs map[string][]*execution.Execution
	// index into logs/threadLogs entries by id; the three views share
	// the same *Execution so one Merge updates all of them
	index map[string]*execution.Execution

	backend   backendPort.Executions
	approvals *ApprovalService
	scheduler Scheduler
	bus       broadcast.Broadcaster
	metrics   *telemetry.Metrics
}

// NewTrackerService creates a TrackerService. The scheduler and
// broadcaster default to no-ops until set.
func NewTrackerService(backend backendPort.Executions, approvals *ApprovalService) *TrackerService {
	return &TrackerService{
		active:     make(map[string]*execution.Execution),
		threadLogs: make(map[string][]*execution.Execution),
		index:      make(map[string]*execution.Execution),
		backend:    backend,
		approvals:  approvals,
		scheduler:  noopScheduler{},
	}
}

// SetScheduler wires the status poller. Call before serving requests.
func (s *TrackerService) SetScheduler(sched Scheduler) {
	s.scheduler = sched
}

// SetBroadcaster wires the GUI push channel. Optional.
func (s *TrackerService) SetBroadcaster(bus broadcast.Broadcaster) {
	s.bus = bus
}

// SetMetrics attaches metric instruments. Optional.
func (s *TrackerService) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// ExecuteTool runs the full execution flow: approval gate, remote
// execute, local registration, and poll scheduling.
//
// The gate is conversation-scoped: it engages only when the request
// carries both a conversation id and a server id, since without them
// there is no approval record to consult or write. When the tool is not
// approved and auto-approve is off, it returns ErrApprovalRequired
// before any remote execute call is made. An approval-check failure
// surfaces as ErrApprovalCheckFailed, distinct from a denial. A remote
// execute failure registers nothing locally.
func (s *TrackerService) ExecuteTool(ctx context.Context, req execution.Request) (*execution.Execution, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.RequireApproval && req.ConversationID != "" && req.ServerID != "" {
		res, err := s.approvals.CheckApproval(ctx, req.ConversationID, req.ServerID, req.ToolName)
		if err != nil {
			return nil, err
		}
		if !res.Approved {
			if !req.AutoApprove {
				if s.metrics != nil {
					s.metrics.ApprovalDenials.Add(ctx, 1)
				}
				return nil, fmt.Errorf("%w: %s/%s", domain.ErrApprovalRequired, req.ServerID, req.ToolName)
			}
			// Auto-approve records the decision before executing so the
			// grant exists even if the execute call fails.
			err := s.approvals.ApproveForConversation(ctx, approval.Record{
				ConversationID: req.ConversationID,
				ServerID:       req.ServerID,
				ToolName:       req.ToolName,
				Approved:       true,
				AutoApprove:    true,
			})
			if err != nil {
				return nil, fmt.Errorf("auto-approve: %w", err)
			}
		}
	}

	rec, err := s.backend.ExecuteTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrRemoteExecution, req.ToolName, err)
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	ex := s.register(rec)

	if s.metrics != nil {
		s.metrics.ExecutionsStarted.Add(ctx, 1)
	}
	slog.InfoContext(ctx, "execution registered",
		"execution_id", ex.ID,
		"tool", ex.ToolName,
		"server_id", ex.ServerID,
		"status", ex.Status,
	)
	if s.bus != nil {
		s.bus.BroadcastEvent(ctx, broadcast.EventExecutionRegistered, broadcast.ExecutionRegisteredEvent{
			ExecutionID:    ex.ID,
			ToolName:       ex.ToolName,
			ServerID:       ex.ServerID,
			ConversationID: ex.ConversationID,
			Status:         string(ex.Status),
		})
	}

	if !ex.Status.IsTerminal() {
		s.scheduler.Track(ex.ID)
	}

	// Refresh the aggregate log so the GUI list includes the new row.
	// Failure here is logged, never surfaced: the execution itself
	// succeeded.
	if err := s.RefreshLogs(ctx, backendPort.ListLogsQuery{}); err != nil {
		slog.WarnContext(ctx, "refresh execution logs after execute", "error", err)
	}

	return s.snapshot(ex.ID), nil
}

// register adds a backend record to all three views, or merges it into
// an existing entry for the same id.
func (s *TrackerService) register(rec execution.Execution) *execution.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ex, ok := s.index[rec.ID]; ok {
		ex.Merge(rec)
		return ex
	}

	ex := &execution.Execution{}
	*ex = rec
	s.index[rec.ID] = ex
	s.logs = append([]*execution.Execution{ex}, s.logs...)
	if rec.ConversationID != "" {
		s.threadLogs[rec.ConversationID] = append([]*execution.Execution{ex}, s.threadLogs[rec.ConversationID]...)
	}
	if !rec.Status.IsTerminal() {
		s.active[rec.ID] = ex
	}
	return ex
}

// ApplyStatus folds an authoritative backend record into the tracked
// execution. All views share one struct, so the merge is atomic with
// respect to readers. Returns the merged snapshot, or ErrNotFound for
// an untracked id.
func (s *TrackerService) ApplyStatus(ctx context.Context, rec execution.Execution) (execution.Execution, error) {
	s.mu.Lock()
	ex, ok := s.index[rec.ID]
	if !ok {
		s.mu.Unlock()
		return execution.Execution{}, fmt.Errorf("%w: execution %s", domain.ErrNotFound, rec.ID)
	}
	prev := ex.Status
	ex.Merge(rec)
	cur := ex.Status
	if cur.IsTerminal() {
		delete(s.active, rec.ID)
	}
	snap := *ex
	s.mu.Unlock()

	if cur != prev {
		slog.InfoContext(ctx, "execution status",
			"execution_id", rec.ID,
			"from", prev,
			"to", cur,
		)
		s.recordTransition(ctx, snap)
		if s.bus != nil {
			s.bus.BroadcastEvent(ctx, broadcast.EventExecutionStatus, broadcast.ExecutionStatusEvent{
				ExecutionID: rec.ID,
				Status:      string(cur),
				Terminal:    cur.IsTerminal(),
			})
		}
	}
	if cur.IsTerminal() {
		s.scheduler.Forget(rec.ID)
	}
	return snap, nil
}

func (s *TrackerService) recordTransition(ctx context.Context, ex execution.Execution) {
	if s.metrics == nil {
		return
	}
	switch ex.Status {
	case execution.StatusCompleted:
		s.metrics.ExecutionsCompleted.Add(ctx, 1)
	case execution.StatusFailed, execution.StatusTimeout:
		s.metrics.ExecutionsFailed.Add(ctx, 1)
	case execution.StatusCancelled:
		s.metrics.ExecutionsCancelled.Add(ctx, 1)
	}
	if ex.Status.IsTerminal() && ex.DurationMS != nil {
		s.metrics.ExecutionDuration.Record(ctx, float64(*ex.DurationMS)/1000)
	}
}

// CancelExecution cancels a tracked, non-terminal execution. Cancelling
// an already-terminal execution returns ErrAlreadyTerminal without a
// remote call; the terminal result is preserved.
func (s *TrackerService) CancelExecution(ctx context.Context, id string) error {
	s.mu.RLock()
	ex, ok := s.index[id]
	var terminal bool
	if ok {
		terminal = ex.Status.IsTerminal()
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: execution %s", domain.ErrNotFound, id)
	}
	if terminal {
		return fmt.Errorf("%w: execution %s", domain.ErrAlreadyTerminal, id)
	}

	if err := s.backend.CancelExecution(ctx, id); err != nil {
		// The backend may have raced us to a terminal state.
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%w: execution %s", domain.ErrAlreadyTerminal, id)
		}
		return fmt.Errorf("cancel execution %s: %w", id, err)
	}

	if _, err := s.ApplyStatus(ctx, execution.Execution{
		ID:     id,
		Status: execution.StatusCancelled,
	}); err != nil {
		return err
	}
	slog.InfoContext(ctx, "execution cancelled", "execution_id", id)
	return nil
}

// FetchStatus retrieves the authoritative record for one tracked
// execution and applies it. Used by the poller and by on-demand
// refreshes from the GUI.
func (s *TrackerService) FetchStatus(ctx context.Context, id string) (execution.Execution, error) {
	rec, err := s.backend.GetExecutionLog(ctx, id)
	if err != nil {
		return execution.Execution{}, fmt.Errorf("fetch execution %s: %w", id, err)
	}
	return s.ApplyStatus(ctx, rec)
}

// RefreshLogs replaces the aggregate (and affected per-conversation)
// log views with a fresh backend listing. Known executions keep their
// tracked struct; unknown ones are registered, so in-flight merges are
// never lost to a refresh.
func (s *TrackerService) RefreshLogs(ctx context.Context, q backendPort.ListLogsQuery) error {
	recs, err := s.backend.ListExecutionLogs(ctx, q)
	if err != nil {
		return fmt.Errorf("list execution logs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(recs))
	logs := make([]*execution.Execution, 0, len(recs))
	for _, rec := range recs {
		seen[rec.ID] = true
		ex, ok := s.index[rec.ID]
		if !ok {
			ex = &execution.Execution{}
			*ex = rec
			s.index[rec.ID] = ex
			if rec.ConversationID != "" {
				s.threadLogs[rec.ConversationID] = append(s.threadLogs[rec.ConversationID], ex)
			}
		} else {
			ex.Merge(rec)
		}
		if ex.Status.IsTerminal() {
			delete(s.active, ex.ID)
		} else if _, tracked := s.active[ex.ID]; !tracked {
			s.active[ex.ID] = ex
		}
		logs = append(logs, ex)
	}
	// Keep in-flight executions the backend listing has not caught up
	// with yet; a refresh must never drop a tracked active row.
	for _, ex := range s.logs {
		if !seen[ex.ID] && !ex.Status.IsTerminal() {
			logs = append(logs, ex)
			seen[ex.ID] = true
		}
	}
	s.logs = logs
	return nil
}

// RefreshThreadLogs replaces one conversation's log view from the backend.
func (s *TrackerService) RefreshThreadLogs(ctx context.Context, threadID string) ([]execution.Execution, error) {
	recs, err := s.backend.ListThreadExecutionLogs(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread %s execution logs: %w", threadID, err)
	}

	s.mu.Lock()
	list := make([]*execution.Execution, 0, len(recs))
	out := make([]execution.Execution, 0, len(recs))
	for _, rec := range recs {
		ex, ok := s.index[rec.ID]
		if !ok {
			ex = &execution.Execution{}
			*ex = rec
			s.index[rec.ID] = ex
		} else {
			ex.Merge(rec)
		}
		if ex.Status.IsTerminal() {
			delete(s.active, ex.ID)
		}
		list = append(list, ex)
		out = append(out, *ex)
	}
	s.threadLogs[threadID] = list
	s.mu.Unlock()
	return out, nil
}

// Get returns a snapshot of one tracked execution.
func (s *TrackerService) Get(id string) (execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.index[id]
	if !ok {
		return execution.Execution{}, fmt.Errorf("%w: execution %s", domain.ErrNotFound, id)
	}
	return *ex, nil
}

// Logs returns a snapshot of the aggregate execution log, newest first.
func (s *TrackerService) Logs() []execution.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]execution.Execution, len(s.logs))
	for i, ex := range s.logs {
		out[i] = *ex
	}
	return out
}

// ThreadLogs returns a snapshot of one conversation's execution log.
func (s *TrackerService) ThreadLogs(threadID string) []execution.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.threadLogs[threadID]
	out := make([]execution.Execution, len(list))
	for i, ex := range list {
		out[i] = *ex
	}
	return out
}

// Active returns snapshots of all non-terminal executions.
func (s *TrackerService) Active() []execution.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]execution.Execution, 0, len(s.active))
	for _, ex := range s.active {
		out = append(out, *ex)
	}
	return out
}

// ByStatus returns snapshots of tracked executions with the given status.
func (s *TrackerService) ByStatus(status execution.Status) []execution.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []execution.Execution
	for _, ex := range s.logs {
		if ex.Status == status {
			out = append(out, *ex)
		}
	}
	return out
}

// ByTool returns snapshots of tracked executions of the given tool.
func (s *TrackerService) ByTool(toolName string) []execution.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []execution.Execution
	for _, ex := range s.logs {
		if ex.ToolName == toolName {
			out = append(out, *ex)
		}
	}
	return out
}

// IsToolExecuting reports whether any non-terminal execution of the
// given tool exists.
func (s *TrackerService) IsToolExecuting(toolName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ex := range s.active {
		if ex.ToolName == toolName {
			return true
		}
	}
	return false
}

// ActiveIDs returns the ids of all non-terminal executions.
func (s *TrackerService) ActiveIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out
}

func (s *TrackerService) snapshot(id string) *execution.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ex, ok := s.index[id]; ok {
		snap := *ex
		return &snap
	}
	return nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mcpgate/mcpgate/internal/domain"
	"github.com/mcpgate/mcpgate/internal/domain/approval"
	backendPort "github.com/mcpgate/mcpgate/internal/port/backend"
	"github.com/mcpgate/mcpgate/internal/port/broadcast"
	cachePort "github.com/mcpgate/mcpgate/internal/port/cache"
	"github.com/mcpgate/mcpgate/internal/telemetry"
)

// ApprovalService resolves whether a tool invocation is permitted and
// mutates approval state. It layers three lookups: local records written
// through this service, cached backend check results, and a backend
// fetch on miss.
//
// Precedence: an unexpired conversation-scoped record always overrides a
// global record for the same (server, tool) pair, regardless of its
// boolean value. With no conversation record the global record applies.
// With neither, the default is not approved.
type ApprovalService struct {
	mu sync.RWMutex
	// conversation-scoped records, keyed by conversation/server/tool
	conversation map[string]approval.Record
	// global records, keyed by server/tool
	global map[string]approval.Record
	// per-(server,tool) cache version; bumped on every mutation so stale
	// cached check results become unreachable without a sweep
	versions map[string]uint64
	// generation invalidates the whole check cache at once
	generation uint64

	backend  backendPort.Approvals
	cache    cachePort.Cache
	fetches  singleflight.Group
	checkTTL time.Duration
	bus      broadcast.Broadcaster
	metrics  *telemetry.Metrics
	now      func() time.Time // for testing
}

// NewApprovalService creates an ApprovalService backed by the given
// approval port and check-result cache.
func NewApprovalService(backend backendPort.Approvals, cache cachePort.Cache, checkTTL time.Duration) *ApprovalService {
	return &ApprovalService{
		conversation: make(map[string]approval.Record),
		global:       make(map[string]approval.Record),
		versions:     make(map[string]uint64),
		backend:      backend,
		cache:        cache,
		checkTTL:     checkTTL,
		now:          time.Now,
	}
}

// SetBroadcaster wires the GUI push channel. Optional.
func (s *ApprovalService) SetBroadcaster(bus broadcast.Broadcaster) {
	s.bus = bus
}

// SetMetrics attaches metric instruments. Optional.
func (s *ApprovalService) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// cachedCheck is the serialized form of a cached backend check result.
// ExpiresAt mirrors the underlying record's expiry and is evaluated at
// read time, so an expired entry reads as a miss without a sweep.
type cachedCheck struct {
	Approved  bool       `json:"approved"`
	Source    string     `json:"source"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CheckApproval reports whether toolName on serverID is approved for
// conversationID. A backend failure is returned as ErrApprovalCheckFailed,
// which callers must not conflate with a denial.
func (s *ApprovalService) CheckApproval(ctx context.Context, conversationID, serverID, toolName string) (approval.CheckResult, error) {
	now := s.now()

	// Local records first: they reflect this client's own writes and
	// need no round-trip.
	s.mu.RLock()
	if rec, ok := s.conversation[approval.ConversationKey(conversationID, serverID, toolName)]; ok && !rec.Expired(now) {
		s.mu.RUnlock()
		s.countCheck(ctx)
		return approval.CheckResult{Approved: rec.Approved, Source: approval.SourceConversation}, nil
	}
	if rec, ok := s.global[approval.Key(serverID, toolName)]; ok && !rec.Expired(now) {
		s.mu.RUnlock()
		s.countCheck(ctx)
		return approval.CheckResult{Approved: rec.Approved, Source: approval.SourceGlobal}, nil
	}
	s.mu.RUnlock()

	key := s.checkCacheKey(conversationID, serverID, toolName)

	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cc cachedCheck
		if err := json.Unmarshal(data, &cc); err == nil {
			if cc.ExpiresAt != nil && !cc.ExpiresAt.After(now) {
				// The underlying record expired after we cached the
				// check: treat as absent.
				_ = s.cache.Delete(ctx, key)
			} else {
				s.countCheck(ctx)
				return approval.CheckResult{Approved: cc.Approved, Source: approval.Source(cc.Source)}, nil
			}
		}
	}

	// Cache miss: fetch from the backend, deduplicating concurrent
	// checks for the same key.
	v, err, _ := s.fetches.Do(key, func() (any, error) {
		res, err := s.backend.CheckToolApproval(ctx, conversationID, serverID, toolName)
		if err != nil {
			return nil, err
		}
		data, mErr := json.Marshal(cachedCheck{Approved: res.Approved, Source: string(res.Source)})
		if mErr == nil {
			_ = s.cache.Set(ctx, key, data, s.checkTTL)
		}
		return res, nil
	})
	if err != nil {
		return approval.CheckResult{}, fmt.Errorf("%w: %s/%s: %v", domain.ErrApprovalCheckFailed, serverID, toolName, err)
	}

	res := v.(approval.CheckResult)
	s.countCheck(ctx)
	return res, nil
}

// SetGlobalApproval persists a global approval record and invalidates
// cached check results for the key so subsequent checks re-resolve.
//
// Known limitation: an approval check that read its cached value before
// this call may still gate one execution with the stale result; the
// version bump only closes the cache race, not the in-flight one.
func (s *ApprovalService) SetGlobalApproval(ctx context.Context, serverID, toolName string, req backendPort.SetGlobalRequest) error {
	if serverID == "" || toolName == "" {
		return fmt.Errorf("%w: server id and tool name are required", domain.ErrValidation)
	}

	if err := s.backend.SetToolGlobalApproval(ctx, serverID, toolName, req); err != nil {
		return fmt.Errorf("set global approval: %w", err)
	}

	s.mu.Lock()
	s.global[approval.Key(serverID, toolName)] = approval.Record{
		ServerID:    serverID,
		ToolName:    toolName,
		Approved:    req.Approved,
		AutoApprove: req.AutoApprove,
		ExpiresAt:   req.ExpiresAt,
		Scope:       approval.ScopeGlobal,
	}
	s.versions[approval.Key(serverID, toolName)]++
	s.mu.Unlock()

	slog.Info("global approval set",
		"server_id", serverID,
		"tool", toolName,
		"approved", req.Approved,
		"auto_approve", req.AutoApprove,
	)
	s.notifyChange(ctx, serverID, toolName, approval.ScopeGlobal, req.Approved)
	return nil
}

// RemoveGlobalApproval deletes a global approval record.
func (s *ApprovalService) RemoveGlobalApproval(ctx context.Context, serverID, toolName string) error {
	if err := s.backend.RemoveGlobalToolApproval(ctx, serverID, toolName); err != nil {
		return fmt.Errorf("remove global approval: %w", err)
	}

	s.mu.Lock()
	delete(s.global, approval.Key(serverID, toolName))
	s.versions[approval.Key(serverID, toolName)]++
	s.mu.Unlock()

	slog.Info("global approval removed", "server_id", serverID, "tool", toolName)
	s.notifyChange(ctx, serverID, toolName, approval.ScopeGlobal, false)
	return nil
}

// ApproveForConversation persists a conversation-scoped approval record.
// Used directly by the GUI and by the tracker's auto-approve path.
func (s *ApprovalService) ApproveForConversation(ctx context.Context, rec approval.Record) error {
	rec.Scope = approval.ScopeConversation
	if err := rec.Validate(); err != nil {
		return err
	}

	if err := s.backend.CreateConversationApproval(ctx, rec); err != nil {
		return fmt.Errorf("create conversation approval: %w", err)
	}

	s.mu.Lock()
	s.conversation[approval.ConversationKey(rec.ConversationID, rec.ServerID, rec.ToolName)] = rec
	s.versions[approval.Key(rec.ServerID, rec.ToolName)]++
	s.mu.Unlock()

	slog.Info("conversation approval set",
		"conversation_id", rec.ConversationID,
		"server_id", rec.ServerID,
		"tool", rec.ToolName,
		"approved", rec.Approved,
	)
	s.notifyChange(ctx, rec.ServerID, rec.ToolName, approval.ScopeConversation, rec.Approved)
	return nil
}

// CleanExpired purges expired approval records locally and on the
// backend, returning the backend's cleaned count. Idempotent: cleaning
// with nothing expired returns 0 without error.
func (s *ApprovalService) CleanExpired(ctx context.Context) (int, error) {
	count, err := s.backend.CleanExpiredApprovals(ctx)
	if err != nil {
		return 0, fmt.Errorf("clean expired approvals: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	for k, rec := range s.conversation {
		if rec.Expired(now) {
			delete(s.conversation, k)
		}
	}
	for k, rec := range s.global {
		if rec.Expired(now) {
			delete(s.global, k)
			s.versions[k]++
		}
	}
	s.mu.Unlock()

	return count, nil
}

// ClearCheckCache invalidates all cached check results without touching
// persisted records. Implemented as a generation bump: old entries are
// simply never read again and age out of the cache by TTL.
func (s *ApprovalService) ClearCheckCache() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
	slog.Info("approval check cache cleared")
}

// checkCacheKey builds a versioned cache key. Bumping the version or the
// generation makes previous entries unreachable, which is how
// invalidation works without scanning the cache.
func (s *ApprovalService) checkCacheKey(conversationID, serverID, toolName string) string {
	s.mu.RLock()
	gen := s.generation
	ver := s.versions[approval.Key(serverID, toolName)]
	s.mu.RUnlock()
	return fmt.Sprintf("check:g%d:v%d:%s", gen, ver, approval.ConversationKey(conversationID, serverID, toolName))
}

// notifyChange pushes an approval mutation to the GUI so open approval
// panels refresh without polling.
func (s *ApprovalService) notifyChange(ctx context.Context, serverID, toolName string, scope approval.Scope, approved bool) {
	if s.bus == nil {
		return
	}
	s.bus.BroadcastEvent(ctx, broadcast.EventApprovalChanged, broadcast.ApprovalChangedEvent{
		ServerID: serverID,
		ToolName: toolName,
		Scope:    string(scope),
		Approved: approved,
	})
}

func (s *ApprovalService) countCheck(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.ApprovalChecks.Add(ctx, 1)
	}
}

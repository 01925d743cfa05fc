package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// entry pairs a record with the handler it was logged through, so a
// child created by WithAttrs keeps its attributes while sharing the
// parent's queue.
type entry struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler decouples log emission from output. Records are queued
// and written by a single background goroutine; when the queue is full
// they are dropped, not blocked on, since the daemon's poll loop must
// never stall behind slow log output. Drops are counted and summarized
// once on Close.
type AsyncHandler struct {
	inner   slog.Handler
	queue   chan entry
	done    chan struct{}
	dropped *atomic.Int64
	closing *sync.Once
}

// NewAsyncHandler wraps inner with a queue of the given capacity and
// starts the drain goroutine.
func NewAsyncHandler(inner slog.Handler, buffer int) *AsyncHandler {
	h := &AsyncHandler{
		inner:   inner,
		queue:   make(chan entry, buffer),
		done:    make(chan struct{}),
		dropped: &atomic.Int64{},
		closing: &sync.Once{},
	}
	go h.drain()
	return h
}

func (h *AsyncHandler) drain() {
	defer close(h.done)
	for e := range h.queue {
		_ = e.h.Handle(context.Background(), e.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.queue <- entry{h: h.inner, rec: rec}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler carrying the attributes; the child
// shares the parent's queue and lifecycle.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.child(h.inner.WithAttrs(attrs))
}

// WithGroup derives a handler opening the group; the child shares the
// parent's queue and lifecycle.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return h.child(h.inner.WithGroup(name))
}

func (h *AsyncHandler) child(inner slog.Handler) *AsyncHandler {
	return &AsyncHandler{
		inner:   inner,
		queue:   h.queue,
		done:    h.done,
		dropped: h.dropped,
		closing: h.closing,
	}
}

// DroppedCount returns the number of records dropped so far.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close flushes the queue, stops the drain goroutine, and writes a
// summary record if anything was dropped. Safe to call more than once.
func (h *AsyncHandler) Close() {
	h.closing.Do(func() { close(h.queue) })
	<-h.done

	if n := h.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped under load", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}

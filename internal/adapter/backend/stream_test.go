package backend_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	adapter "github.com/mcpgate/mcpgate/internal/adapter/backend"
	"github.com/mcpgate/mcpgate/internal/domain"
	"github.com/mcpgate/mcpgate/internal/domain/serverlog"
)

func TestStreamServerLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/mcp/servers/srv-1/logs/stream" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Fatalf("unexpected accept header: %q", accept)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)

		// Two events, one malformed line, one comment; out-of-timestamp-order on purpose.
		fmt.Fprintf(w, "data: {\"timestamp\":\"2026-08-01T12:05:00Z\",\"log_type\":\"exec\",\"level\":\"info\",\"message\":\"first\"}\n\n")
		fmt.Fprintf(w, ": keep-alive\n\n")
		fmt.Fprintf(w, "data: not-json\n\n")
		fmt.Fprintf(w, "data: {\"timestamp\":\"2026-08-01T12:01:00Z\",\"log_type\":\"err\",\"level\":\"error\",\"message\":\"second\"}\n\n")
		fl.Flush()
	}))
	defer srv.Close()

	client := adapter.NewClient(srv.URL, "", 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := client.StreamServerLogs(ctx, "srv-1")
	if err != nil {
		t.Fatalf("StreamServerLogs failed: %v", err)
	}

	var entries []serverlog.Entry
	for e := range ch {
		entries = append(entries, e)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Arrival order, not timestamp order.
	if entries[0].Message != "first" || entries[1].Message != "second" {
		t.Errorf("expected arrival order [first second], got %+v", entries)
	}
	if entries[0].Type != serverlog.TypeExec || entries[1].Type != serverlog.TypeErr {
		t.Errorf("unexpected log types: %+v", entries)
	}
	if entries[0].ServerID != "srv-1" {
		t.Errorf("expected server id stamped, got %q", entries[0].ServerID)
	}
}

func TestStreamServerLogsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := adapter.NewClient(srv.URL, "", 5*time.Second)
	_, err := client.StreamServerLogs(context.Background(), "srv-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrStreamConnection) {
		t.Errorf("expected ErrStreamConnection, got: %v", err)
	}
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain"
	"github.com/mcpgate/mcpgate/internal/domain/serverlog"
)

// fakeStreamer hands out controllable entry channels per server.
type fakeStreamer struct {
	mu         sync.Mutex
	chans      map[string]chan serverlog.Entry
	connects   int
	failNext   int
	overlapped bool
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{chans: make(map[string]chan serverlog.Entry)}
}

func (f *fakeStreamer) StreamServerLogs(ctx context.Context, serverID string) (<-chan serverlog.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("connect refused")
	}
	if _, exists := f.chans[serverID]; exists {
		// Two live streams for one server id: the condition the
		// reconnect teardown wait exists to prevent.
		f.overlapped = true
	}
	ch := make(chan serverlog.Entry, 16)
	f.chans[serverID] = ch
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		// dropStream may have closed the channel already.
		if f.chans[serverID] == ch {
			delete(f.chans, serverID)
			close(ch)
		}
	}()
	return ch, nil
}

func (f *fakeStreamer) send(serverID string, e serverlog.Entry) bool {
	f.mu.Lock()
	ch, ok := f.chans[serverID]
	f.mu.Unlock()
	if !ok {
		return false
	}
	ch <- e
	return true
}

func (f *fakeStreamer) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeStreamer) didOverlap() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlapped
}

func (f *fakeStreamer) dropStream(serverID string) {
	f.mu.Lock()
	ch, ok := f.chans[serverID]
	if ok {
		delete(f.chans, serverID)
	}
	f.mu.Unlock()
	if ok {
		close(ch)
	}
}

func newTestStreamService(t *testing.T, streamer *fakeStreamer) *StreamService {
	t.Helper()
	svc := NewStreamService(streamer, 5*time.Millisecond)
	t.Cleanup(svc.Shutdown)
	return svc
}

func entry(serverID string, typ serverlog.Type, msg string) serverlog.Entry {
	return serverlog.Entry{
		ServerID:  serverID,
		Type:      typ,
		Level:     "info",
		Message:   msg,
		Timestamp: time.Now(),
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStreamSubscribeAndBuffer(t *testing.T) {
	streamer := newFakeStreamer()
	svc := newTestStreamService(t, streamer)

	if err := svc.Subscribe("srv-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "never connected")

	streamer.send("srv-1", entry("srv-1", serverlog.TypeOut, "first"))
	streamer.send("srv-1", entry("srv-1", serverlog.TypeErr, "second"))

	waitFor(t, func() bool { return len(svc.Entries("srv-1")) == 2 }, "entries never buffered")

	got := svc.Entries("srv-1")
	if got[0].Message != "first" || got[1].Message != "second" {
		t.Errorf("entries out of arrival order: %+v", got)
	}
}

func TestStreamArrivalOrderBeatsTimestamps(t *testing.T) {
	streamer := newFakeStreamer()
	svc := newTestStreamService(t, streamer)

	if err := svc.Subscribe("srv-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "never connected")

	late := entry("srv-1", serverlog.TypeOut, "arrived-first")
	late.Timestamp = time.Now().Add(time.Hour)
	early := entry("srv-1", serverlog.TypeOut, "arrived-second")
	early.Timestamp = time.Now().Add(-time.Hour)

	streamer.send("srv-1", late)
	streamer.send("srv-1", early)
	waitFor(t, func() bool { return len(svc.Entries("srv-1")) == 2 }, "entries never buffered")

	got := svc.Entries("srv-1")
	if got[0].Message != "arrived-first" {
		t.Errorf("buffer must be in arrival order, not timestamp order: %+v", got)
	}
}

func TestStreamSubscribeIdempotent(t *testing.T) {
	streamer := newFakeStreamer()
	svc := newTestStreamService(t, streamer)

	if err := svc.Subscribe("srv-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "never connected")

	streamer.send("srv-1", entry("srv-1", serverlog.TypeOut, "kept"))
	waitFor(t, func() bool { return len(svc.Entries("srv-1")) == 1 }, "entry never buffered")

	// A second subscribe must not reconnect or clear the buffer.
	if err := svc.Subscribe("srv-1"); err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	if got := streamer.connectCount(); got != 1 {
		t.Errorf("re-subscribe opened a new connection: %d connects", got)
	}
	if got := svc.Entries("srv-1"); len(got) != 1 {
		t.Errorf("re-subscribe disturbed the buffer: %+v", got)
	}
}

func TestStreamIndependentPerServer(t *testing.T) {
	streamer := newFakeStreamer()
	svc := newTestStreamService(t, streamer)

	for _, id := range []string{"srv-1", "srv-2"} {
		if err := svc.Subscribe(id); err != nil {
			t.Fatalf("subscribe %s: %v", id, err)
		}
		waitFor(t, func() bool { return svc.State(id) == StateConnected }, "never connected")
	}

	streamer.send("srv-1", entry("srv-1", serverlog.TypeOut, "one"))
	waitFor(t, func() bool { return len(svc.Entries("srv-1")) == 1 }, "srv-1 entry never buffered")

	if got := svc.Entries("srv-2"); len(got) != 0 {
		t.Errorf("srv-2 buffer must be untouched: %+v", got)
	}

	svc.Disconnect("srv-2")
	if svc.State("srv-1") != StateConnected {
		t.Error("disconnecting srv-2 must not affect srv-1")
	}
}

func TestStreamDisconnectKeepsBuffer(t *testing.T) {
	streamer := newFakeStreamer()
	svc := newTestStreamService(t, streamer)

	if err := svc.Subscribe("srv-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "never connected")
	streamer.send("srv-1", entry("srv-1", serverlog.TypeOut, "kept"))
	waitFor(t, func() bool { return len(svc.Entries("srv-1")) == 1 }, "entry never buffered")

	svc.Disconnect("srv-1")
	if svc.State("srv-1") != StateDisconnected {
		t.Errorf("expected disconnected, got %s", svc.State("srv-1"))
	}
	if got := svc.Entries("srv-1"); len(got) != 1 {
		t.Errorf("disconnect must keep the buffer: %+v", got)
	}
}

func TestStreamDisconnectNeverSubscribed(t *testing.T) {
	svc := newTestStreamService(t, newFakeStreamer())

	// Must not panic or error.
	svc.Disconnect("ghost")
	if svc.State("ghost") != StateDisconnected {
		t.Errorf("unknown server should read as disconnected")
	}
}

func TestStreamClear(t *testing.T) {
	streamer := newFakeStreamer()
	svc := newTestStreamService(t, streamer)

	if err := svc.Subscribe("srv-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "never connected")
	streamer.send("srv-1", entry("srv-1", serverlog.TypeOut, "gone"))
	waitFor(t, func() bool { return len(svc.Entries("srv-1")) == 1 }, "entry never buffered")

	svc.Clear("srv-1")
	if got := svc.Entries("srv-1"); len(got) != 0 {
		t.Errorf("clear must empty the buffer: %+v", got)
	}
	if svc.State("srv-1") != StateConnected {
		t.Error("clear must not touch connection state")
	}

	// The stream keeps delivering after a clear.
	streamer.send("srv-1", entry("srv-1", serverlog.TypeOut, "after"))
	waitFor(t, func() bool { return len(svc.Entries("srv-1")) == 1 }, "stream dead after clear")
}

func TestStreamDropParksInErrorState(t *testing.T) {
	streamer := newFakeStreamer()
	svc := newTestStreamService(t, streamer)

	if err := svc.Subscribe("srv-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "never connected")
	streamer.send("srv-1", entry("srv-1", serverlog.TypeOut, "before-drop"))
	waitFor(t, func() bool { return len(svc.Entries("srv-1")) == 1 }, "entry never buffered")

	// A dropped stream stays down until asked for again; reconnecting
	// is manual in this daemon.
	streamer.dropStream("srv-1")
	waitFor(t, func() bool { return svc.State("srv-1") == StateError }, "drop never surfaced")
	time.Sleep(20 * time.Millisecond)
	if got := streamer.connectCount(); got != 1 {
		t.Fatalf("dropped stream must not reconnect on its own, got %d connects", got)
	}

	// Manual reconnect restores delivery with the buffer intact.
	if err := svc.Reconnect("srv-1"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "never re-established")
	streamer.send("srv-1", entry("srv-1", serverlog.TypeOut, "after-drop"))
	waitFor(t, func() bool { return len(svc.Entries("srv-1")) == 2 }, "entry lost after reconnect")
}

func TestStreamConnectFailureParksInErrorState(t *testing.T) {
	streamer := newFakeStreamer()
	streamer.failNext = 1
	svc := newTestStreamService(t, streamer)

	if err := svc.Subscribe("srv-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateError }, "failure never surfaced")
	time.Sleep(20 * time.Millisecond)
	if got := streamer.connectCount(); got != 1 {
		t.Fatalf("failed connect must not retry on its own, got %d attempts", got)
	}

	if err := svc.Reconnect("srv-1"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "reconnect never connected")
}

func TestStreamManualReconnect(t *testing.T) {
	streamer := newFakeStreamer()
	svc := newTestStreamService(t, streamer)

	if err := svc.Subscribe("srv-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "never connected")
	streamer.send("srv-1", entry("srv-1", serverlog.TypeOut, "kept"))
	waitFor(t, func() bool { return len(svc.Entries("srv-1")) == 1 }, "entry never buffered")

	if err := svc.Reconnect("srv-1"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "never reconnected")
	if got := svc.Entries("srv-1"); len(got) != 1 {
		t.Errorf("manual reconnect must keep the buffer: %+v", got)
	}
	if streamer.didOverlap() {
		t.Error("reconnect opened the new stream before the old one was torn down")
	}
}

func TestStreamPrefs(t *testing.T) {
	svc := newTestStreamService(t, newFakeStreamer())

	if got := svc.Prefs("srv-1"); !got.AutoScroll {
		t.Error("default prefs should auto-scroll")
	}

	svc.UpdatePrefs("srv-1", StreamPrefs{AutoScroll: false, SelectedTypes: []serverlog.Type{serverlog.TypeErr}})
	got := svc.Prefs("srv-1")
	if got.AutoScroll {
		t.Error("prefs update not applied")
	}
	if len(got.SelectedTypes) != 1 || got.SelectedTypes[0] != serverlog.TypeErr {
		t.Errorf("selected types not applied: %+v", got)
	}
}

func TestStreamFilteredEntries(t *testing.T) {
	streamer := newFakeStreamer()
	svc := newTestStreamService(t, streamer)

	if err := svc.Subscribe("srv-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "never connected")

	streamer.send("srv-1", entry("srv-1", serverlog.TypeOut, "out-line"))
	streamer.send("srv-1", entry("srv-1", serverlog.TypeErr, "err-line"))
	waitFor(t, func() bool { return len(svc.Entries("srv-1")) == 2 }, "entries never buffered")

	svc.UpdatePrefs("srv-1", StreamPrefs{SelectedTypes: []serverlog.Type{serverlog.TypeErr}})
	got := svc.FilteredEntries("srv-1")
	if len(got) != 1 || got[0].Message != "err-line" {
		t.Errorf("filter by type failed: %+v", got)
	}

	// Filtering is a view, not a consumption.
	if all := svc.Entries("srv-1"); len(all) != 2 {
		t.Errorf("filtering must not consume the buffer: %+v", all)
	}

	svc.UpdatePrefs("srv-1", StreamPrefs{})
	if got := svc.FilteredEntries("srv-1"); len(got) != 2 {
		t.Errorf("empty selection means no filter: %+v", got)
	}
}

func TestStreamSubscribeValidation(t *testing.T) {
	svc := newTestStreamService(t, newFakeStreamer())

	if err := svc.Subscribe(""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestStreamBufferCap(t *testing.T) {
	streamer := newFakeStreamer()
	svc := newTestStreamService(t, streamer)
	svc.maxBuffer = 3

	if err := svc.Subscribe("srv-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return svc.State("srv-1") == StateConnected }, "never connected")

	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		streamer.send("srv-1", entry("srv-1", serverlog.TypeOut, msg))
	}
	waitFor(t, func() bool {
		got := svc.Entries("srv-1")
		return len(got) == 3 && got[0].Message == "c" && got[2].Message == "e"
	}, "buffer cap not applied oldest-first")
}

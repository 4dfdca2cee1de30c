package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type countingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *countingSink) Emit(_ context.Context, e Event) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	// nil receivers are safe
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success"})
	}
	d.Close()
	if got := sink.count(); got != 10 {
		t.Fatalf("delivered %d events, want 10", got)
	}

	d.Emit(context.Background(), Event{EventType: "after_close"})
	if got := sink.count(); got != 10 {
		t.Fatalf("event accepted after close")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &countingSink{block: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{EventType: "login_failure"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a blocked sink")
	}
	close(sink.block)
	d.Close()
}

func TestDispatcherReportsDropsOnLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := &countingSink{block: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, WithLogger(logger))

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{EventType: "login_failure"})
	}
	close(sink.block)
	d.Close()

	if d.Dropped() == 0 {
		t.Fatal("expected drops with a stalled sink")
	}
	if got := strings.Count(buf.String(), "audit event dropped"); got != 1 {
		t.Fatalf("drop reports = %d, want one per interval: %s", got, buf.String())
	}
	if got := uint64(sink.count()) + d.Dropped(); got != 50 {
		t.Fatalf("delivered+dropped = %d, want 50", got)
	}
}

func TestDispatcherBlockingEmitHonorsContext(t *testing.T) {
	sink := &countingSink{block: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.block)
		d.Close()
	}()

	// One event occupies the relay and one fills the buffer.
	d.Emit(context.Background(), Event{EventType: "a"})
	for len(d.events) > 0 {
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), Event{EventType: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, Event{EventType: "c"})
	if time.Since(start) > time.Second {
		t.Fatal("emit ignored the caller's deadline")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected the abandoned event to count as dropped")
	}
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, &countingSink{})
	d.Close()
	d.Close()
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		EventType: "signup_success",
		UserID:    "u1",
		Success:   true,
	})

	var decoded Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EventType != "signup_success" || decoded.UserID != "u1" || !decoded.Success {
		t.Fatalf("unexpected event %+v", decoded)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{EventType: "login_failure", Error: "invalid_credentials", Metadata: map[string]string{"reason": "password"}})
	line := buf.String()
	if !strings.Contains(line, `"level":"WARN"`) {
		t.Fatalf("expected WARN level, got %s", line)
	}
	if !strings.Contains(line, `"meta.reason":"password"`) {
		t.Fatalf("metadata missing: %s", line)
	}

	buf.Reset()
	sink.Emit(context.Background(), Event{EventType: "login_success", Success: true})
	if !strings.Contains(buf.String(), `"level":"INFO"`) {
		t.Fatalf("expected INFO level, got %s", buf.String())
	}
}

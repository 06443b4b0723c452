package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestCloseDrainsBufferedEvents(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64, DropIfFull: true}, sink)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success"})
	}
	d.Close()

	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected 50 delivered events, got %d", got)
	}

	d.Emit(context.Background(), Event{EventType: "after_close"})
	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected emit after close to be ignored, got %d", got)
	}
}

func TestDropIfFullCountsDrops(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is held by the worker, one fills the buffer, the rest drop.
	d.Emit(context.Background(), Event{EventType: "a"})
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "b"})
	}

	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a blocked sink")
	}
	close(sink.gate)
	d.Close()
}

func TestBlockingEmitHonoursContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: false}, sink)

	d.Emit(context.Background(), Event{EventType: "a"})
	time.Sleep(20 * time.Millisecond)
	d.Emit(context.Background(), Event{EventType: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, Event{EventType: "c"})
	if time.Since(start) > time.Second {
		t.Fatal("blocking emit did not return on context expiry")
	}

	close(sink.gate)
	d.Close()
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{EventType: "logout", Subject: "alice@x", Success: true})
	sink.Emit(context.Background(), Event{EventType: "refresh_mismatch", Subject: "alice@x", Error: "refresh_mismatch"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.EventType != "refresh_mismatch" || ev.Subject != "alice@x" || ev.Success {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{EventType: "login_success", Subject: "alice@x", Success: true})
	sink.Emit(context.Background(), Event{EventType: "login_failure", Subject: "alice@x", Error: "invalid_credentials", Metadata: map[string]string{"reason": "password_mismatch"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d", len(lines))
	}

	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first["level"] != "INFO" || first["msg"] != "login_success" || first["component"] != "audit" {
		t.Fatalf("unexpected success record: %v", first)
	}
	if second["level"] != "WARN" || second["error"] != "invalid_credentials" {
		t.Fatalf("unexpected failure record: %v", second)
	}
	meta, ok := second["metadata"].(map[string]any)
	if !ok || meta["reason"] != "password_mismatch" {
		t.Fatalf("unexpected metadata: %v", second["metadata"])
	}
}

func TestBlockingEmitCountsCancelledWaitAsDrop(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	d.Emit(context.Background(), Event{EventType: "a"})
	time.Sleep(20 * time.Millisecond)
	d.Emit(context.Background(), Event{EventType: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, Event{EventType: "c"})

	if got := d.Dropped(); got != 1 {
		t.Fatalf("expected 1 drop, got %d", got)
	}
	close(sink.gate)
	d.Close()
	if got := d.Delivered(); got != 2 {
		t.Fatalf("expected 2 delivered, got %d", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, nil)
	d.Emit(context.Background(), Event{EventType: "register_success"})
	d.Close()
	d.Close()
	if got := d.Delivered(); got != 1 {
		t.Fatalf("expected 1 delivered, got %d", got)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestJSONWriterSinkKeepsFirstError(t *testing.T) {
	sink := NewJSONWriterSink(failingWriter{})
	sink.Emit(context.Background(), Event{EventType: "logout"})
	if err := sink.Err(); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected write error, got %v", err)
	}

	nilWriter := NewJSONWriterSink(nil)
	nilWriter.Emit(context.Background(), Event{EventType: "logout"})
	if nilWriter.Err() != nil {
		t.Fatal("nil writer must not report errors")
	}
}

package authgate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func auditEngine(t *testing.T, sink AuditSink) *Engine {
	t.Helper()
	cfg := engineTestConfig()
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 64}
	engine, _, _ := newTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	return engine
}

func nextEvent(t *testing.T, sink *ChannelSink) AuditEvent {
	t.Helper()
	select {
	case ev := <-sink.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
		return AuditEvent{}
	}
}

func TestAuditLifecycleEvents(t *testing.T) {
	sink := NewChannelSink(64)
	engine := auditEngine(t, sink)

	ctx := WithUserAgent(WithClientIP(context.Background(), "203.0.113.7"), "curl/8")
	if _, err := engine.Register(ctx, "alice", "alice@x", "pw1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, err := engine.Login(ctx, "alice@x", "pw1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	_, _ = engine.Refresh(ctx, pair.RefreshToken)
	if err := engine.Logout(ctx, "alice@x"); err != nil {
		t.Fatalf("logout: %v", err)
	}

	want := []struct {
		event   string
		success bool
		code    string
	}{
		{auditEventRegisterSuccess, true, ""},
		{auditEventLoginSuccess, true, ""},
		{auditEventRefreshSuccess, true, ""},
		{auditEventRefreshMismatch, false, string(auditErrRefreshMismatch)},
		{auditEventLogout, true, ""},
	}
	for _, w := range want {
		ev := nextEvent(t, sink)
		if ev.EventType != w.event || ev.Success != w.success || ev.Error != w.code {
			t.Fatalf("got event %+v, want %s success=%v error=%q", ev, w.event, w.success, w.code)
		}
		if ev.Subject != "alice@x" || ev.IP != "203.0.113.7" || ev.UserAgent != "curl/8" {
			t.Fatalf("missing request context in %+v", ev)
		}
	}
}

func TestAuditLoginFailureReason(t *testing.T) {
	sink := NewChannelSink(16)
	engine := auditEngine(t, sink)

	_, _ = engine.Login(context.Background(), "nobody@x", "pw1")

	ev := nextEvent(t, sink)
	if ev.EventType != auditEventLoginFailure || ev.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Metadata["reason"] != "user_not_found" {
		t.Fatalf("expected reason metadata, got %v", ev.Metadata)
	}
}

func TestAuditJSONWriterNeverCarriesSecrets(t *testing.T) {
	var buf bytes.Buffer
	engine := auditEngine(t, NewJSONWriterSink(&buf))

	if _, err := engine.Register(context.Background(), "alice", "alice@x", "super-secret-pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, err := engine.Login(context.Background(), "alice@x", "super-secret-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	engine.Close()

	out := buf.String()
	for _, secret := range []string{"super-secret-pw", pair.AccessToken, pair.RefreshToken} {
		if bytes.Contains([]byte(out), []byte(secret)) {
			t.Fatal("audit output leaked a credential")
		}
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d", len(lines))
	}
	var ev AuditEvent
	if err := json.Unmarshal(lines[1], &ev); err != nil {
		t.Fatalf("decode audit line: %v", err)
	}
	if ev.EventType != auditEventLoginSuccess {
		t.Fatalf("unexpected event %q", ev.EventType)
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	cases := map[error]AuditErrorCode{
		nil:                   "",
		ErrInvalidCredentials: auditErrInvalidCredentials,
		ErrWrongKind:          auditErrWrongKind,
		ErrInvalidToken:       auditErrInvalidToken,
		ErrUnknownSubject:     auditErrUnknownSubject,
		ErrRefreshMismatch:    auditErrRefreshMismatch,
		ErrEmailExists:        auditErrDuplicate,
		ErrPersistence:        auditErrUnavailable,
		ErrHashing:            auditErrInternal,
	}
	for err, want := range cases {
		if got := auditErrorCode(err); got != want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestAuditDirectoryOutageCode(t *testing.T) {
	sink := NewChannelSink(16)
	cfg := engineTestConfig()
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 64}
	engine, _, mr := newTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	mr.Close()

	ctx := context.Background()
	if _, err := engine.Register(ctx, "bob", "bob@x", "pw1"); !errors.Is(err, ErrPersistence) {
		t.Fatalf("register: expected ErrPersistence, got %v", err)
	}
	if _, err := engine.Login(ctx, "bob@x", "pw1"); !errors.Is(err, ErrPersistence) {
		t.Fatalf("login: expected ErrPersistence, got %v", err)
	}

	for _, event := range []string{auditEventRegisterFailure, auditEventLoginFailure} {
		ev := nextEvent(t, sink)
		if ev.EventType != event || ev.Error != string(auditErrUnavailable) {
			t.Fatalf("got event %+v, want %s with %q", ev, event, auditErrUnavailable)
		}
	}
}

// stallSink blocks every delivery until release is closed.
type stallSink struct{ release chan struct{} }

func (s stallSink) Emit(context.Context, AuditEvent) { <-s.release }

func TestAuditDroppedWhenBufferFull(t *testing.T) {
	sink := stallSink{release: make(chan struct{})}
	cfg := engineTestConfig()
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}
	engine, _, _ := newTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	t.Cleanup(func() { close(sink.release) })

	if got := engine.AuditDropped(); got != 0 {
		t.Fatalf("expected no drops yet, got %d", got)
	}
	for i := 0; i < 10; i++ {
		_, _ = engine.Login(context.Background(), "nobody@x", "pw1")
	}
	if got := engine.AuditDropped(); got < 8 {
		t.Fatalf("expected at least 8 drops, got %d", got)
	}

	var nilEngine *Engine
	if nilEngine.AuditDropped() != 0 {
		t.Fatal("nil engine should report no drops")
	}
}

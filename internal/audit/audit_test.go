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

type blockingSink struct {
	mu      sync.Mutex
	events  []Event
	release chan struct{}
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, nil)
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	d.Emit(context.Background(), Event{EventType: LoginSuccess})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher drops nothing")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: LoginFailure})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink")
	}
	close(sink.release)
	d.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if uint64(len(sink.events))+d.Dropped() != 10 {
		t.Fatalf("delivered %d + dropped %d != 10", len(sink.events), d.Dropped())
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	ch := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, ch)
	for _, typ := range []string{OTPRequested, OTPVerified, PasswordReset} {
		d.Emit(context.Background(), Event{EventType: typ, Success: true})
	}
	d.Close()

	var got []string
	for len(ch.Events()) > 0 {
		got = append(got, (<-ch.Events()).EventType)
	}
	if strings.Join(got, ",") != "otp_requested,otp_verified,password_reset" {
		t.Fatalf("got %v", got)
	}
	d.Emit(context.Background(), Event{EventType: Logout})
	if len(ch.Events()) != 0 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestDispatcherStampsTimestamp(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ch := NewChannelSink(2)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 2, Now: func() time.Time { return fixed }}, ch)
	preset := fixed.Add(-time.Hour)
	d.Emit(context.Background(), Event{EventType: Logout})
	d.Emit(context.Background(), Event{EventType: Logout, Timestamp: preset})
	d.Close()

	if got := (<-ch.Events()).Timestamp; !got.Equal(fixed) {
		t.Fatalf("stamped %v, want %v", got, fixed)
	}
	if got := (<-ch.Events()).Timestamp; !got.Equal(preset) {
		t.Fatalf("preset timestamp overwritten: %v", got)
	}
	if d.Emitted() != 2 {
		t.Fatalf("emitted %d", d.Emitted())
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Event{EventType: AccountLocked, UserID: "u1", Metadata: map[string]string{"remaining_minutes": "30"}})

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["event_type"] != AccountLocked || decoded["user_id"] != "u1" {
		t.Fatalf("unexpected %v", decoded)
	}
	if _, ok := decoded["session_id"]; ok {
		t.Fatal("empty fields must be omitted")
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	sink := SlogSink{Logger: logger}

	sink.Emit(context.Background(), Event{EventType: LoginSuccess, Success: true})
	if buf.Len() != 0 {
		t.Fatal("success should log at info")
	}
	sink.Emit(context.Background(), Event{EventType: LoginFailure, UserID: "u1", Error: "invalid_credentials"})
	out := buf.String()
	if !strings.Contains(out, "event=login_failure") || !strings.Contains(out, "user_id=u1") {
		t.Fatalf("unexpected log line %q", out)
	}
}

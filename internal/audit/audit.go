package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event types emitted by the identity engine.
const (
	LoginSuccess          = "login_success"
	LoginFailure          = "login_failure"
	AccountLocked         = "account_locked"
	AccountUnlocked       = "account_unlocked"
	OTPRequested          = "otp_requested"
	OTPVerified           = "otp_verified"
	OTPFailed             = "otp_failed"
	OTPDeliveryFailed     = "otp_delivery_failed"
	PasswordReset         = "password_reset"
	PasswordChanged       = "password_changed"
	RefreshSuccess        = "refresh_success"
	RefreshFailure        = "refresh_failure"
	Logout                = "logout"
	SessionTerminated     = "session_terminated"
	SessionsTerminatedAll = "sessions_terminated_all"
	SessionsSwept         = "sessions_swept"
	PermissionsChanged    = "permissions_changed"
)

// Event is one security-relevant occurrence.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// LogValue renders the non-empty fields as a slog group.
func (e Event) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 6+len(e.Metadata))
	attrs = append(attrs, slog.String("event", e.EventType), slog.Bool("success", e.Success))
	for _, f := range [...]struct{ k, v string }{
		{"user_id", e.UserID},
		{"session_id", e.SessionID},
		{"request_id", e.RequestID},
		{"ip", e.IP},
		{"error", e.Error},
	} {
		if f.v != "" {
			attrs = append(attrs, slog.String(f.k, f.v))
		}
	}
	for k, v := range e.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Sink receives events from the dispatcher worker.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink buffers events for a consumer. Emit blocks while the buffer
// is full unless ctx ends first.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event { return s.events }

// JSONWriterSink writes one JSON object per line. Encoding errors drop the
// event.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// SlogSink logs each event at Info, or Warn when it records a failure.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(ctx context.Context, event Event) {
	if s.Logger == nil {
		return
	}
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	s.Logger.LogAttrs(ctx, level, "goIdentity: audit", slog.Any("audit", event))
}

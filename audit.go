package goIdentity

import (
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
)

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer], one per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink is an [AuditSink] that logs events through a [slog.Logger].
type SlogSink = internalaudit.SlogSink

// Audit event types.
const (
	AuditLoginSuccess          = internalaudit.LoginSuccess
	AuditLoginFailure          = internalaudit.LoginFailure
	AuditAccountLocked         = internalaudit.AccountLocked
	AuditAccountUnlocked       = internalaudit.AccountUnlocked
	AuditOTPRequested          = internalaudit.OTPRequested
	AuditOTPVerified           = internalaudit.OTPVerified
	AuditOTPFailed             = internalaudit.OTPFailed
	AuditOTPDeliveryFailed     = internalaudit.OTPDeliveryFailed
	AuditPasswordReset         = internalaudit.PasswordReset
	AuditPasswordChanged       = internalaudit.PasswordChanged
	AuditRefreshSuccess        = internalaudit.RefreshSuccess
	AuditRefreshFailure        = internalaudit.RefreshFailure
	AuditLogout                = internalaudit.Logout
	AuditSessionTerminated     = internalaudit.SessionTerminated
	AuditSessionsTerminatedAll = internalaudit.SessionsTerminatedAll
	AuditSessionsSwept         = internalaudit.SessionsSwept
	AuditPermissionsChanged    = internalaudit.PermissionsChanged
)

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates a [SlogSink] over logger.
func NewSlogSink(logger *slog.Logger) SlogSink {
	return SlogSink{Logger: logger}
}

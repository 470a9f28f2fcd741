package goIdentity

import (
	"context"
	"errors"
	"strconv"
)

// AuditErrorCode is the stable error classification written to audit events
// in place of raw error text.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrOTPExpired         AuditErrorCode = "otp_expired"
	auditErrOTPInvalid         AuditErrorCode = "otp_invalid"
	auditErrOTPAttempts        AuditErrorCode = "otp_attempts_exceeded"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrSessionInactive    AuditErrorCode = "session_inactive"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// emitAudit is the flows.Emitter of the engine. It stamps request metadata
// from ctx and replaces err with its code.
func (e *Engine) emitAudit(ctx context.Context, event AuditEvent, err error) {
	if e == nil || e.audit == nil {
		return
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	e.audit.Emit(ctx, event)
}

func (e *Engine) emitSwept(n int) {
	e.emitAudit(context.Background(), AuditEvent{
		EventType: AuditSessionsSwept,
		Success:   true,
		Metadata:  map[string]string{"terminated": strconv.Itoa(n)},
	}, nil)
}

// auditErrorCode checks the most specific categories first: an exhausted
// OTP is also a lock and must report as attempts exceeded.
func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrOTPMaxAttemptsExceeded):
		return auditErrOTPAttempts
	case errors.Is(err, ErrOTPInvalid):
		return auditErrOTPInvalid
	case errors.Is(err, ErrOTPExpired):
		return auditErrOTPExpired
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionInactive):
		return auditErrSessionInactive
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrCacheUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

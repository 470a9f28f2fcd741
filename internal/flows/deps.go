package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/internal/audit"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Login    LoginDeps
	Refresh  RefreshDeps
	Logout   LogoutDeps
	OTP      OTPDeps
	Password PasswordDeps
}

// Errors carries host-level sentinels and typed-error constructors so flows
// never import the root package.
type Errors struct {
	EngineNotReady         error
	InvalidCredentials     error
	TokenInvalid           error
	SessionNotFound        error
	SessionInactive        error
	OTPExpired             error
	OTPMaxAttemptsExceeded error

	Credentials func(remaining int) error
	Locked      func(until time.Time, remainingMinutes int) error
	OTP         func(remaining int, lockedUntil time.Time) error
	Validation  func(problems ...string) error
	Store       func(error) error
}

// Emitter is the audit hook shared by every flow. err is passed apart from
// the event so the host can reduce it to a stable code.
type Emitter func(ctx context.Context, ev audit.Event, err error)

func (e Emitter) emit(ctx context.Context, eventType string, success bool, userID, sessionID string, err error, meta map[string]string) {
	if e == nil {
		return
	}
	ev := audit.Event{
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		Success:   success,
		Metadata:  meta,
	}
	e(ctx, ev, err)
}

func noopInc(int) {}

package goIdentity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials is returned for a wrong password or an unknown
	// identifier. The two are never distinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while an account is inside its lock window.
	ErrAccountLocked = errors.New("account locked")
	// ErrOTPExpired is returned for a challenge past its expiry or no longer pending.
	ErrOTPExpired = errors.New("otp expired")
	// ErrOTPInvalid is returned when a code does not match.
	ErrOTPInvalid = errors.New("otp invalid")
	// ErrOTPMaxAttemptsExceeded is returned once a challenge's attempt budget is spent.
	ErrOTPMaxAttemptsExceeded = errors.New("otp max attempts exceeded")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInactive is returned when a session exists but is no longer active.
	ErrSessionInactive = errors.New("session inactive")
	// ErrTokenInvalid covers malformed, expired, tampered and revoked tokens alike.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrValidation is returned for rejected input such as a weak password.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned by administrative calls for unknown users or roles.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable wraps persistence failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCacheUnavailable wraps cache failures on paths that cannot degrade to the store.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrEngineNotReady is returned by a zero or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidConfig is returned by Config.Validate and Builder.Build.
	ErrInvalidConfig = errors.New("invalid config")
)

// LockedError reports how long an account stays locked. It matches
// ErrAccountLocked.
type LockedError struct {
	Until            time.Time
	RemainingMinutes int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minute(s)", e.RemainingMinutes)
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// CredentialsError matches ErrInvalidCredentials. RemainingAttempts is -1
// when no figure may be disclosed, e.g. for an unknown identifier.
type CredentialsError struct {
	RemainingAttempts int
}

func (e *CredentialsError) Error() string {
	if e.RemainingAttempts < 0 {
		return ErrInvalidCredentials.Error()
	}
	return fmt.Sprintf("%v, %d attempt(s) remaining", ErrInvalidCredentials, e.RemainingAttempts)
}

func (e *CredentialsError) Is(target error) bool { return target == ErrInvalidCredentials }

// OTPError matches ErrOTPInvalid. When the failed attempt spent the last
// one, LockedUntil is set and the error also matches ErrAccountLocked.
type OTPError struct {
	RemainingAttempts int
	LockedUntil       time.Time
}

func (e *OTPError) Error() string {
	if !e.LockedUntil.IsZero() {
		return fmt.Sprintf("%v, no attempts remaining, account locked", ErrOTPInvalid)
	}
	return fmt.Sprintf("%v, %d attempt(s) remaining", ErrOTPInvalid, e.RemainingAttempts)
}

func (e *OTPError) Is(target error) bool {
	if target == ErrOTPInvalid {
		return true
	}
	return target == ErrAccountLocked && !e.LockedUntil.IsZero()
}

// ValidationError lists every rejected rule in a fixed order. It matches
// ErrValidation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func cacheErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
}

package goIdentity

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/internal/credentials"
	"github.com/MrEthical07/goIdentity/store"
)

// AccountStatus is a read-only view of a user's lock state.
type AccountStatus struct {
	UserID         string
	Status         string
	FailedAttempts int
	LockedUntil    time.Time
}

// Locked reports whether the account is inside a lock window.
func (s AccountStatus) Locked() bool {
	return s.Status == string(store.UserLocked)
}

// AccountStatus returns userID's lock state. An expired lock is healed by
// this call, so a caller never sees LOCKED after the window has passed.
func (e *Engine) AccountStatus(ctx context.Context, userID string) (*AccountStatus, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	u, err := e.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := e.policy.IsLocked(ctx, u); err != nil {
		return nil, storeErr(err)
	}
	out := &AccountStatus{
		UserID:         u.ID,
		Status:         string(u.Status),
		FailedAttempts: u.FailedLoginAttempts,
	}
	if u.AccountLockedUntil != nil {
		out.LockedUntil = *u.AccountLockedUntil
	}
	return out, nil
}

// UnlockAccount clears userID's lock and failed attempt counter whether or
// not the lock window has passed.
func (e *Engine) UnlockAccount(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	u, err := e.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.policy.Unlock(ctx, u); err != nil {
		return storeErr(err)
	}
	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditAccountUnlocked,
		UserID:    u.ID,
		Success:   true,
	}, nil)
	return nil
}

// LockAccount locks userID for the configured lockout duration and ends
// every session of the user with reason ADMIN.
func (e *Engine) LockAccount(ctx context.Context, userID string) (time.Time, error) {
	if !e.ready() {
		return time.Time{}, ErrEngineNotReady
	}
	u, err := e.findUser(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	until, err := e.policy.LockAccount(ctx, u)
	if err != nil {
		return time.Time{}, storeErr(err)
	}
	e.metricInc(MetricAccountLocked)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditAccountLocked,
		UserID:    u.ID,
		Success:   true,
		Metadata:  map[string]string{"cause": "admin"},
	}, nil)
	if _, err := e.flows.TerminateAll(ctx, u.ID, ReasonAdmin); err != nil {
		return until, err
	}
	return until, nil
}

func (e *Engine) findUser(ctx context.Context, userID string) (*store.User, error) {
	if userID == "" {
		return nil, &ValidationError{Problems: []string{"user id is required"}}
	}
	u, err := e.users.ByID(ctx, userID)
	if err != nil {
		if errors.Is(err, credentials.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	return u, nil
}

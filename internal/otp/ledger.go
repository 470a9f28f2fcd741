package otp

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/store"
)

var (
	// ErrNotFound is returned for unknown request ids.
	ErrNotFound = errors.New("otp challenge not found")
	// ErrUnavailable wraps ledger store failures.
	ErrUnavailable = errors.New("otp ledger unavailable")
)

// Ledger persists challenge records. Records are never deleted.
type Ledger struct {
	store store.OtpStore
}

func NewLedger(s store.OtpStore) *Ledger {
	return &Ledger{store: s}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// Issue stores rec as the PENDING challenge for its (user, purpose), taking
// over the request id of an existing one.
func (l *Ledger) Issue(ctx context.Context, rec *store.OtpRecord) (bool, error) {
	reused, err := l.store.IssueOtp(ctx, rec)
	return reused, mapErr(err)
}

func (l *Ledger) ByRequestID(ctx context.Context, requestID string) (*store.OtpRecord, error) {
	rec, err := l.store.FindOtpByRequestID(ctx, requestID)
	return rec, mapErr(err)
}

// Pending returns the PENDING record for (userID, purpose) or ErrNotFound.
func (l *Ledger) Pending(ctx context.Context, userID, purpose string) (*store.OtpRecord, error) {
	rec, err := l.store.FindPendingOtp(ctx, userID, purpose)
	return rec, mapErr(err)
}

// ReserveAttempt durably spends one attempt before the code is compared and
// returns the new count. ok is false when nothing was left to spend. It
// commits on its own; callers must abort on error.
func (l *Ledger) ReserveAttempt(ctx context.Context, requestID string) (int, bool, error) {
	n, ok, err := l.store.ReserveOtpAttempt(ctx, requestID)
	return n, ok, mapErr(err)
}

// Transition moves the challenge from one status to another and reports
// whether this call made the move.
func (l *Ledger) Transition(ctx context.Context, requestID string, from, to store.OtpStatus) (bool, error) {
	ok, err := l.store.TransitionOtpStatus(ctx, requestID, from, to)
	return ok, mapErr(err)
}

// SetDelivery records the outcome of the asynchronous notification send.
func (l *Ledger) SetDelivery(ctx context.Context, requestID string, status store.DeliveryStatus, deliveryID string) error {
	return mapErr(l.store.UpdateOtpDelivery(ctx, requestID, status, deliveryID))
}

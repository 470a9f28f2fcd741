package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/goIdentity/config"
	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/store"
)

const (
	defaultLength        = 6
	defaultExpiryMinutes = 10
	defaultMaxAttempts   = 3
)

var (
	// ErrExpired is returned when the challenge is past its expiry.
	ErrExpired = errors.New("otp expired")
	// ErrNotPending is returned once a challenge has left PENDING.
	ErrNotPending = errors.New("otp challenge no longer pending")
	// ErrInvalid is returned when the code does not match.
	ErrInvalid = errors.New("otp invalid")
	// ErrAttemptsExceeded is returned once the attempt budget is spent.
	ErrAttemptsExceeded = errors.New("otp attempts exceeded")
)

// VerifyError carries the remaining attempt budget and, when the account was
// locked by this or an earlier attempt, the lock expiry.
type VerifyError struct {
	Kind        error
	Remaining   int
	LockedUntil time.Time
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%v (remaining attempts: %d)", e.Kind, e.Remaining)
}

func (e *VerifyError) Unwrap() error { return e.Kind }

// Locked reports whether the account is locked as a result of this challenge.
func (e *VerifyError) Locked() bool { return !e.LockedUntil.IsZero() }

// UserFinder resolves the challenge owner.
type UserFinder interface {
	ByID(ctx context.Context, userID string) (*store.User, error)
}

// AccountLocker locks an account after OTP abuse.
type AccountLocker interface {
	LockAccount(ctx context.Context, u *store.User) (time.Time, error)
}

// ResetIssuer mints the reset token handed out after a successful verify.
type ResetIssuer interface {
	CreateReset(userID, requestID string) (string, time.Time, error)
}

// Issued is the result of Request. Code is the plaintext OTP and must only
// be handed to the notifier.
type Issued struct {
	Record            *store.OtpRecord
	Code              string
	RequestID         string
	ExpiresAt         time.Time
	RemainingAttempts int
	Reused            bool
}

// Verified is the result of a successful Verify.
type Verified struct {
	Record         *store.OtpRecord
	ResetToken     string
	ResetExpiresAt time.Time
}

// Options configures a Challenge.
type Options struct {
	BcryptCost int
	Now        func() time.Time
	Logger     *slog.Logger
}

// Challenge issues and verifies one-time codes.
type Challenge struct {
	ledger *Ledger
	users  UserFinder
	locker AccountLocker
	issuer ResetIssuer
	cfg    config.Provider

	cost   int
	now    func() time.Time
	logger *slog.Logger
}

func NewChallenge(ledger *Ledger, users UserFinder, locker AccountLocker, issuer ResetIssuer, cfg config.Provider, opts Options) *Challenge {
	c := &Challenge{
		ledger: ledger,
		users:  users,
		locker: locker,
		issuer: issuer,
		cfg:    cfg,
		cost:   opts.BcryptCost,
		now:    opts.Now,
		logger: opts.Logger,
	}
	if c.cost == 0 {
		c.cost = bcrypt.DefaultCost
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

func (c *Challenge) length() int {
	n := c.cfg.Int(config.KeyOtpLength, defaultLength)
	if n < 4 || n > 10 {
		return defaultLength
	}
	return n
}

// Expiry is the configured challenge lifetime.
func (c *Challenge) Expiry() time.Duration {
	m := c.cfg.Int(config.KeyOtpExpiryMinutes, defaultExpiryMinutes)
	if m < 1 {
		m = defaultExpiryMinutes
	}
	return time.Duration(m) * time.Minute
}

// MaxAttempts is the configured attempt budget.
func (c *Challenge) MaxAttempts() int {
	n := c.cfg.Int(config.KeyOtpMaxAttempts, defaultMaxAttempts)
	if n < 1 {
		return defaultMaxAttempts
	}
	return n
}

// Request issues a code for (userID, purpose). A PENDING record for the same
// pair is reused: same request id, new hash, new expiry, attempts reset.
func (c *Challenge) Request(ctx context.Context, userID, purpose string) (*Issued, error) {
	code, err := internal.NewOTP(c.length())
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), c.cost)
	if err != nil {
		return nil, err
	}

	now := c.now()
	rec := &store.OtpRecord{
		RequestID:      internal.NewRequestID(),
		UserID:         userID,
		OtpHash:        string(hash),
		Purpose:        purpose,
		Status:         store.OtpPending,
		MaxAttempts:    c.MaxAttempts(),
		ExpiresAt:      now.Add(c.Expiry()),
		CreatedAt:      now,
		DeliveryStatus: store.DeliveryQueued,
	}
	reused, err := c.ledger.Issue(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &Issued{
		Record:            rec,
		Code:              code,
		RequestID:         rec.RequestID,
		ExpiresAt:         rec.ExpiresAt,
		RemainingAttempts: rec.MaxAttempts,
		Reused:            reused,
	}, nil
}

// Verify checks code against the challenge. Order: expiry, spent budget,
// mismatch, match. An attempt is reserved before the compare, so every
// compare is paid for and a match spends one too. The reservation and the
// lock each commit on their own before Verify returns.
func (c *Challenge) Verify(ctx context.Context, requestID, code string) (*Verified, error) {
	rec, err := c.ledger.ByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.OtpPending {
		return nil, ErrNotPending
	}

	if !c.now().Before(rec.ExpiresAt) {
		if _, err := c.ledger.Transition(ctx, requestID, store.OtpPending, store.OtpExpired); err != nil {
			c.logger.Warn("goIdentity: otp expire mark failed", "request_id", requestID, "error", err)
		}
		return nil, ErrExpired
	}

	n, ok, err := c.ledger.ReserveAttempt(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, c.refused(ctx, requestID)
	}

	if bcrypt.CompareHashAndPassword([]byte(rec.OtpHash), []byte(code)) != nil {
		remaining := max(rec.MaxAttempts-n, 0)
		verr := &VerifyError{Kind: ErrInvalid, Remaining: remaining}
		if remaining == 0 {
			until, err := c.lockOwner(ctx, rec.UserID)
			if err != nil {
				return nil, err
			}
			verr.LockedUntil = until
		}
		return nil, verr
	}

	won, err := c.ledger.Transition(ctx, requestID, store.OtpPending, store.OtpVerified)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrNotPending
	}
	rec.Status = store.OtpVerified
	rec.AttemptCount = n

	token, exp, err := c.issuer.CreateReset(rec.UserID, rec.RequestID)
	if err != nil {
		return nil, err
	}
	return &Verified{Record: rec, ResetToken: token, ResetExpiresAt: exp}, nil
}

// refused explains a failed reservation: the challenge either left PENDING
// under a concurrent verify or its budget is spent.
func (c *Challenge) refused(ctx context.Context, requestID string) error {
	rec, err := c.ledger.ByRequestID(ctx, requestID)
	if err != nil {
		return err
	}
	if rec.Status != store.OtpPending {
		return ErrNotPending
	}
	until, err := c.lockOwner(ctx, rec.UserID)
	if err != nil {
		return err
	}
	return &VerifyError{Kind: ErrAttemptsExceeded, LockedUntil: until}
}

// Consume moves a VERIFIED challenge to CONSUMED. Only one caller ever gets
// true, which makes the reset token bound to the challenge single-use.
func (c *Challenge) Consume(ctx context.Context, requestID string) (bool, error) {
	return c.ledger.Transition(ctx, requestID, store.OtpVerified, store.OtpConsumed)
}

func (c *Challenge) lockOwner(ctx context.Context, userID string) (time.Time, error) {
	u, err := c.users.ByID(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return c.locker.LockAccount(ctx, u)
}

// MarkDelivery records a delivery outcome on the challenge.
func (c *Challenge) MarkDelivery(ctx context.Context, requestID string, status store.DeliveryStatus, deliveryID string) error {
	return c.ledger.SetDelivery(ctx, requestID, status, deliveryID)
}

// Lookup returns the challenge record.
func (c *Challenge) Lookup(ctx context.Context, requestID string) (*store.OtpRecord, error) {
	return c.ledger.ByRequestID(ctx, requestID)
}

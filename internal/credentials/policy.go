package credentials

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/MrEthical07/goIdentity/config"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/store"
)

const (
	defaultMaxFailedAttempts = 5
	defaultLockoutMinutes    = 30
)

// Policy verifies and hashes passwords and owns lockout transitions.
type Policy struct {
	users  *Store
	hasher *password.Argon2
	cfg    config.Provider
	now    func() time.Time
	logger *slog.Logger
}

// NewPolicy wires a policy. A nil clock means time.Now.
func NewPolicy(users *Store, hasher *password.Argon2, cfg config.Provider, now func() time.Time, logger *slog.Logger) *Policy {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Policy{users: users, hasher: hasher, cfg: cfg, now: now, logger: logger}
}

// MaxFailedAttempts is the configured lock threshold.
func (p *Policy) MaxFailedAttempts() int {
	n := p.cfg.Int(config.KeyMaxFailedLoginAttempts, defaultMaxFailedAttempts)
	if n < 1 {
		return defaultMaxFailedAttempts
	}
	return n
}

// LockoutDuration is the configured lock window.
func (p *Policy) LockoutDuration() time.Duration {
	m := p.cfg.Int(config.KeyLockoutDurationMinutes, defaultLockoutMinutes)
	if m < 1 {
		m = defaultLockoutMinutes
	}
	return time.Duration(m) * time.Minute
}

// Verify reports whether raw matches storedHash. Malformed hashes are a
// plain mismatch.
func (p *Policy) Verify(raw, storedHash string) bool {
	ok, err := p.hasher.Verify(raw, storedHash)
	if err != nil {
		return false
	}
	return ok
}

// Hash hashes raw with the current parameters.
func (p *Policy) Hash(raw string) (string, error) {
	return p.hasher.Hash(raw)
}

// CheckStrength applies the composition rule with the configured special set.
func (p *Policy) CheckStrength(raw string) error {
	specials := p.cfg.String(config.KeyPasswordSpecialChars, config.DefaultPasswordSpecialChar)
	return password.Strength{Specials: specials}.Check(raw)
}

// UpgradeHash re-hashes raw when storedHash uses weaker parameters. Failures
// are logged and ignored; the old hash keeps working.
func (p *Policy) UpgradeHash(ctx context.Context, u *store.User, raw string) {
	needs, err := p.hasher.NeedsUpgrade(u.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := p.hasher.Hash(raw)
	if err != nil {
		p.logger.Warn("goIdentity: password rehash failed", "user_id", u.ID, "error", err)
		return
	}
	if err := p.users.rehash(ctx, u.ID, hash); err != nil {
		p.logger.Warn("goIdentity: password rehash persist failed", "user_id", u.ID, "error", err)
		return
	}
	u.PasswordHash = hash
}

// HandleFailedLogin records one failure durably and locks the account when
// the threshold is reached. It returns the attempts left, 0 once locked.
// Store errors are returned, never swallowed.
func (p *Policy) HandleFailedLogin(ctx context.Context, u *store.User) (int, error) {
	attempts, err := p.users.incrementFailures(ctx, u.ID)
	if err != nil {
		return 0, err
	}
	u.FailedLoginAttempts = attempts

	max := p.MaxFailedAttempts()
	if attempts >= max {
		if _, err := p.lock(ctx, u); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return max - attempts, nil
}

// LockAccount locks u for the configured window regardless of its counter.
func (p *Policy) LockAccount(ctx context.Context, u *store.User) (time.Time, error) {
	return p.lock(ctx, u)
}

func (p *Policy) lock(ctx context.Context, u *store.User) (time.Time, error) {
	until := p.now().Add(p.LockoutDuration())
	if err := p.users.lock(ctx, u.ID, until); err != nil {
		return time.Time{}, err
	}
	u.Status = store.UserLocked
	u.AccountLockedUntil = &until
	return until, nil
}

// IsLocked reports whether u is inside its lock window. A window that has
// passed is healed here: counters cleared, status ACTIVE, persisted.
func (p *Policy) IsLocked(ctx context.Context, u *store.User) (bool, error) {
	if u.AccountLockedUntil == nil {
		return u.Status == store.UserLocked, nil
	}
	if p.now().Before(*u.AccountLockedUntil) {
		return true, nil
	}
	if err := p.users.clearLockout(ctx, u.ID); err != nil {
		return false, err
	}
	u.Status = store.UserActive
	u.FailedLoginAttempts = 0
	u.AccountLockedUntil = nil
	return false, nil
}

// RemainingLockMinutes rounds the rest of the lock window up to whole
// minutes, never below 1 while locked.
func (p *Policy) RemainingLockMinutes(u *store.User) int {
	if u.AccountLockedUntil == nil {
		return 0
	}
	left := u.AccountLockedUntil.Sub(p.now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Minutes()))
}

// ResetFailedAttempts clears the counter after a successful authentication.
// It skips the write when there is nothing to clear.
func (p *Policy) ResetFailedAttempts(ctx context.Context, u *store.User) error {
	if u.FailedLoginAttempts == 0 && u.AccountLockedUntil == nil && u.Status != store.UserLocked {
		return nil
	}
	if err := p.users.clearLockout(ctx, u.ID); err != nil {
		return err
	}
	u.FailedLoginAttempts = 0
	u.AccountLockedUntil = nil
	u.Status = store.UserActive
	return nil
}

// Unlock clears lock state unconditionally.
func (p *Policy) Unlock(ctx context.Context, u *store.User) error {
	if err := p.users.clearLockout(ctx, u.ID); err != nil {
		return err
	}
	u.FailedLoginAttempts = 0
	u.AccountLockedUntil = nil
	u.Status = store.UserActive
	return nil
}

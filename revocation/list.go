// Package revocation is the denylist of tokens that must be rejected while
// still cryptographically valid. Entries live exactly as long as the token
// could otherwise be accepted and are never deleted explicitly.
package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/cache"
	"github.com/MrEthical07/goIdentity/internal"
)

const (
	// DefaultFallbackTTL applies when a token's expiry cannot be read.
	DefaultFallbackTTL = 24 * time.Hour
	revokedMarker      = "1"
)

// ExpiryReader extracts a token's natural expiry without verifying it.
type ExpiryReader interface {
	ExpiresAt(token string) (time.Time, bool)
}

// Config bounds entry lifetimes.
type Config struct {
	// FallbackTTL is used when the expiry is unreadable.
	FallbackTTL time.Duration
	// MaxTTL caps any entry; the expiry read is unverified and could be forged.
	MaxTTL time.Duration
	// Leeway matches the token validator's clock skew allowance.
	Leeway time.Duration
	Now    func() time.Time
}

// List is the revocation denylist over a Cache namespace.
type List struct {
	cache  cache.Cache
	expiry ExpiryReader
	cfg    Config
}

// New returns a list. Zero config fields take defaults.
func New(c cache.Cache, expiry ExpiryReader, cfg Config) *List {
	if cfg.FallbackTTL <= 0 {
		cfg.FallbackTTL = DefaultFallbackTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &List{cache: c, expiry: expiry, cfg: cfg}
}

// TTLFor is the lifetime a revocation of token would get right now. Zero
// means the token is already past its natural expiry.
func (l *List) TTLFor(token string) time.Duration {
	exp, ok := l.expiry.ExpiresAt(token)
	if !ok {
		return l.capped(l.cfg.FallbackTTL)
	}
	remaining := exp.Add(l.cfg.Leeway).Sub(l.cfg.Now())
	if remaining <= 0 {
		return 0
	}
	return l.capped(remaining)
}

func (l *List) capped(ttl time.Duration) time.Duration {
	if l.cfg.MaxTTL > 0 && ttl > l.cfg.MaxTTL {
		return l.cfg.MaxTTL
	}
	return ttl
}

// Revoke adds token for its remaining lifetime. Revoking an already expired
// token is a no-op.
func (l *List) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	ttl := l.TTLFor(token)
	if ttl <= 0 {
		return nil
	}
	return l.cache.Set(ctx, internal.TokenDigest(token), []byte(revokedMarker), ttl)
}

// IsRevoked is a membership check. Backend failures are returned so callers
// can fail closed.
func (l *List) IsRevoked(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	_, err := l.cache.Get(ctx, internal.TokenDigest(token))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, cache.ErrMiss):
		return false, nil
	default:
		return false, err
	}
}

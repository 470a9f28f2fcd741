package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goIdentity/cache"
	"github.com/MrEthical07/goIdentity/store"
)

var (
	// ErrNotFound is returned for unknown session ids or tokens.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable wraps store failures.
	ErrUnavailable = errors.New("session store unavailable")
)

// DefaultCacheTTL bounds how long a snapshot may be served without a store read.
const DefaultCacheTTL = 5 * time.Minute

// Registry persists sessions in the store and fronts reads with a TTL cache.
// The cache only ever holds active snapshots and is written after the store.
type Registry struct {
	store    store.SessionStore
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewRegistry wires a registry. A zero cacheTTL takes DefaultCacheTTL.
func NewRegistry(s store.SessionStore, c cache.Cache, cacheTTL time.Duration, logger *slog.Logger) *Registry {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{store: s, cache: c, cacheTTL: cacheTTL, logger: logger}
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

func snapshotOf(s *store.Session) *Snapshot {
	return &Snapshot{
		SessionID:      s.ID,
		UserID:         s.UserID,
		Active:         s.IsActive,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
	}
}

// Lookup reads through the cache. It does not populate the cache; callers
// do that after deciding the session is still valid.
func (r *Registry) Lookup(ctx context.Context, sessionID string) (*Snapshot, bool, error) {
	raw, err := r.cache.Get(ctx, sessionID)
	switch {
	case err == nil:
		snap, derr := Decode(raw)
		if derr == nil && snap.SessionID == sessionID {
			return snap, true, nil
		}
		r.evict(ctx, sessionID)
	case !errors.Is(err, cache.ErrMiss):
		r.logger.Warn("goIdentity: session cache read failed", "error", err)
	}

	sess, err := r.store.FindSessionByID(ctx, sessionID)
	if err != nil {
		return nil, false, mapErr(err)
	}
	return snapshotOf(sess), false, nil
}

// Remember caches an active snapshot until the earlier of cacheTTL and its expiry.
func (r *Registry) Remember(ctx context.Context, snap *Snapshot, now time.Time) {
	if !snap.Active {
		r.evict(ctx, snap.SessionID)
		return
	}
	ttl := snap.ExpiresAt.Sub(now)
	if ttl > r.cacheTTL {
		ttl = r.cacheTTL
	}
	if ttl <= 0 {
		return
	}
	raw, err := Encode(snap)
	if err != nil {
		r.logger.Warn("goIdentity: session encode failed", "session_id", snap.SessionID, "error", err)
		return
	}
	if err := r.cache.Set(ctx, snap.SessionID, raw, ttl); err != nil {
		r.logger.Warn("goIdentity: session cache write failed", "error", err)
	}
}

func (r *Registry) evict(ctx context.Context, sessionID string) {
	if err := r.cache.Evict(ctx, sessionID); err != nil {
		r.logger.Error("goIdentity: session cache evict failed", "session_id", sessionID, "error", err)
	}
}

// EvictAll clears every cached snapshot.
func (r *Registry) EvictAll(ctx context.Context) error {
	return r.cache.EvictAll(ctx)
}

func (r *Registry) Get(ctx context.Context, sessionID string) (*store.Session, error) {
	s, err := r.store.FindSessionByID(ctx, sessionID)
	return s, mapErr(err)
}

func (r *Registry) ByAccessToken(ctx context.Context, token string) (*store.Session, error) {
	s, err := r.store.FindSessionByAccessToken(ctx, token)
	return s, mapErr(err)
}

func (r *Registry) ByRefreshToken(ctx context.Context, token string) (*store.Session, error) {
	s, err := r.store.FindSessionByRefreshToken(ctx, token)
	return s, mapErr(err)
}

func (r *Registry) ActiveForUser(ctx context.Context, userID string) ([]*store.Session, error) {
	s, err := r.store.FindActiveSessionsByUser(ctx, userID)
	return s, mapErr(err)
}

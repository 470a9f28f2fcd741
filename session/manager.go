package session

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goIdentity/config"
	"github.com/MrEthical07/goIdentity/store"
)

const (
	defaultInactivityMinutes = 15
	defaultSweepBatch        = 500
	lockStripes              = 64
)

// CreateResult is the new session plus any sessions it evicted.
type CreateResult struct {
	Session *store.Session
	Evicted []*store.Session
}

// Manager owns the session lifecycle: single-session enforcement, sliding
// activity windows, termination and expiry sweeps.
//
// Within a process, the store write and cache write of validate and the
// store write and cache evict of terminate run under a per-session stripe
// lock, so a terminated session is never re-cached as active.
type Manager struct {
	registry *Registry
	store    store.Store
	cfg      config.Provider
	now      func() time.Time
	logger   *slog.Logger

	stripes [lockStripes]sync.Mutex
}

// NewManager wires a manager. A nil clock means time.Now.
func NewManager(registry *Registry, s store.Store, cfg config.Provider, now func() time.Time, logger *slog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{registry: registry, store: s, cfg: cfg, now: now, logger: logger}
}

// Registry exposes the underlying registry for token lookups.
func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) stripe(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &m.stripes[h.Sum32()%lockStripes]
}

// InactivityTimeout is the configured sliding window.
func (m *Manager) InactivityTimeout() time.Duration {
	mins := m.cfg.Int(config.KeySessionInactivityMins, defaultInactivityMinutes)
	if mins < 1 {
		mins = defaultInactivityMinutes
	}
	return time.Duration(mins) * time.Minute
}

// SingleSessionEnforced reports the configured policy.
func (m *Manager) SingleSessionEnforced() bool {
	return m.cfg.Bool(config.KeySingleSessionEnforced, true)
}

// Create inserts a session. With single-session enforcement every other
// active session of the user is terminated with DUPLICATE_LOGIN in the same
// store unit of work as the insert, so readers never see two active.
func (m *Manager) Create(ctx context.Context, in NewSession) (*CreateResult, error) {
	now := m.now()
	sess := &store.Session{
		ID:             in.ID,
		UserID:         in.UserID,
		AccessToken:    in.AccessToken,
		RefreshToken:   in.RefreshToken,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		DeviceType:     in.DeviceType,
		IsActive:       true,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.InactivityTimeout()),
		CreatedAt:      now,
	}

	if !m.SingleSessionEnforced() {
		if err := m.store.SaveSession(ctx, sess); err != nil {
			return nil, mapErr(err)
		}
		if err := m.store.SetCurrentSession(ctx, sess.UserID, sess.ID); err != nil {
			return nil, mapErr(err)
		}
		m.registry.Remember(ctx, snapshotOf(sess), now)
		return &CreateResult{Session: sess}, nil
	}

	evicted, err := m.store.InsertExclusiveSession(ctx, sess, store.ReasonDuplicateLogin)
	if err != nil {
		return nil, mapErr(err)
	}
	for _, old := range evicted {
		m.forget(ctx, old.ID)
	}
	m.registry.Remember(ctx, snapshotOf(sess), now)
	return &CreateResult{Session: sess, Evicted: evicted}, nil
}

func (m *Manager) forget(ctx context.Context, sessionID string) {
	mu := m.stripe(sessionID)
	mu.Lock()
	m.registry.evict(ctx, sessionID)
	mu.Unlock()
}

// Check validates sessionID and returns its snapshot when valid. Expired
// sessions are terminated with TIMEOUT before returning false. A valid
// session has its window slid forward.
func (m *Manager) Check(ctx context.Context, sessionID string) (*Snapshot, bool, error) {
	if sessionID == "" {
		return nil, false, nil
	}
	snap, _, err := m.registry.Lookup(ctx, sessionID)
	if err == ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !snap.Active {
		return snap, false, nil
	}

	now := m.now()
	if !now.Before(snap.ExpiresAt) {
		if _, _, err := m.Terminate(ctx, sessionID, store.ReasonTimeout); err != nil && err != ErrNotFound {
			return snap, false, err
		}
		snap.Active = false
		return snap, false, nil
	}

	mu := m.stripe(sessionID)
	mu.Lock()
	defer mu.Unlock()

	expires := now.Add(m.InactivityTimeout())
	ok, err := m.store.TouchSession(ctx, sessionID, now, expires)
	if err != nil {
		return snap, false, mapErr(err)
	}
	if !ok {
		m.registry.evict(ctx, sessionID)
		snap.Active = false
		return snap, false, nil
	}
	snap.LastActivityAt = now
	snap.ExpiresAt = expires
	m.registry.Remember(ctx, snap, now)
	return snap, true, nil
}

// Validate reports whether sessionID is active and unexpired.
func (m *Manager) Validate(ctx context.Context, sessionID string) (bool, error) {
	_, ok, err := m.Check(ctx, sessionID)
	return ok, err
}

// Terminate deactivates a session. It is idempotent: the returned bool is
// false when the session was already inactive. The user's current-session
// pointer is cleared only while it still points at this session.
func (m *Manager) Terminate(ctx context.Context, sessionID, reason string) (*store.Session, bool, error) {
	sess, changed, err := m.store.DeactivateSession(ctx, sessionID, reason, m.now())
	if err != nil {
		return nil, false, mapErr(err)
	}
	m.forget(ctx, sessionID)
	if !changed {
		return sess, false, nil
	}
	if _, err := m.store.ClearCurrentSession(ctx, sess.UserID, sessionID); err != nil {
		return sess, true, mapErr(err)
	}
	return sess, true, nil
}

// TerminateAll deactivates every active session of userID and clears the
// pointer unconditionally. It returns the sessions it deactivated.
func (m *Manager) TerminateAll(ctx context.Context, userID, reason string) ([]*store.Session, error) {
	active, err := m.registry.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var done []*store.Session
	for _, s := range active {
		sess, changed, err := m.store.DeactivateSession(ctx, s.ID, reason, now)
		if err != nil {
			return done, mapErr(err)
		}
		m.forget(ctx, s.ID)
		if changed {
			done = append(done, sess)
		}
	}
	if err := m.store.ResetCurrentSession(ctx, userID); err != nil {
		return done, mapErr(err)
	}
	return done, nil
}

// UpdateAccessToken records a re-issued access token on the session.
func (m *Manager) UpdateAccessToken(ctx context.Context, sessionID, token string) error {
	return mapErr(m.store.UpdateSessionAccessToken(ctx, sessionID, token))
}

// Sweep terminates every active session past its expiry with TIMEOUT, then
// clears the whole snapshot cache since the stale keys are not known up
// front. It returns the number of sessions terminated.
func (m *Manager) Sweep(ctx context.Context, batch int) ([]*store.Session, error) {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	var swept []*store.Session
	for {
		expired, err := m.store.FindExpiredActiveSessions(ctx, m.now(), batch)
		if err != nil {
			return swept, mapErr(err)
		}
		progressed := false
		for _, s := range expired {
			sess, changed, err := m.Terminate(ctx, s.ID, store.ReasonTimeout)
			if err != nil {
				m.logger.Warn("goIdentity: sweep terminate failed", "session_id", s.ID, "error", err)
				continue
			}
			if changed {
				progressed = true
				swept = append(swept, sess)
			}
		}
		if len(expired) < batch || !progressed {
			break
		}
	}
	if err := m.registry.EvictAll(ctx); err != nil {
		return swept, err
	}
	return swept, nil
}

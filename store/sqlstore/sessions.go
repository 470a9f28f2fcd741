package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/MrEthical07/goIdentity/store"
)

const sessionColumns = `id, user_id, access_token, refresh_token, ip_address, user_agent, device_type,
	is_active, last_activity_at, expires_at, created_at, termination_reason, terminated_at`

func scanSession(row interface{ Scan(dest ...any) error }) (*store.Session, error) {
	var (
		sess                        store.Session
		lastActivity, expires, born int64
		terminated                  sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.AccessToken, &sess.RefreshToken, &sess.IPAddress,
		&sess.UserAgent, &sess.DeviceType, &sess.IsActive, &lastActivity, &expires, &born,
		&sess.TerminationReason, &terminated); err != nil {
		return nil, notFound(err)
	}
	sess.LastActivityAt = fromMillis(lastActivity)
	sess.ExpiresAt = fromMillis(expires)
	sess.CreatedAt = fromMillis(born)
	sess.TerminatedAt = fromNullMillis(terminated)
	return &sess, nil
}

func (s *Store) querySessions(ctx context.Context, q querier, query string, args ...any) ([]*store.Session, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) FindSessionByID(ctx context.Context, sessionID string) (*store.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), sessionID))
}

func (s *Store) FindSessionByAccessToken(ctx context.Context, token string) (*store.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions
		WHERE access_token = ?`), token))
}

func (s *Store) FindSessionByRefreshToken(ctx context.Context, token string) (*store.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions
		WHERE refresh_token = ?`), token))
}

func (s *Store) SaveSession(ctx context.Context, sess *store.Session) error {
	return s.upsertSession(ctx, s.db, sess)
}

func (s *Store) upsertSession(ctx context.Context, q querier, sess *store.Session) error {
	_, err := s.exec(ctx, q, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			is_active = excluded.is_active,
			last_activity_at = excluded.last_activity_at,
			expires_at = excluded.expires_at,
			termination_reason = excluded.termination_reason,
			terminated_at = excluded.terminated_at`,
		sess.ID, sess.UserID, sess.AccessToken, sess.RefreshToken, sess.IPAddress, sess.UserAgent,
		sess.DeviceType, sess.IsActive, toMillis(sess.LastActivityAt), toMillis(sess.ExpiresAt),
		toMillis(sess.CreatedAt), sess.TerminationReason, nullMillis(sess.TerminatedAt))
	return err
}

func (s *Store) FindActiveSessionsByUser(ctx context.Context, userID string) ([]*store.Session, error) {
	return s.querySessions(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND is_active = TRUE ORDER BY created_at, id`, userID)
}

func (s *Store) InsertExclusiveSession(ctx context.Context, sess *store.Session, reason string) ([]*store.Session, error) {
	var evicted []*store.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Writing the user row first serializes concurrent logins of the
		// same user: the second transaction waits here and then sees the
		// first one's session as active.
		n, err := s.exec(ctx, tx, `UPDATE users SET current_session_id = ? WHERE id = ?`, sess.ID, sess.UserID)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}

		evicted, err = s.querySessions(ctx, tx, `SELECT `+sessionColumns+` FROM sessions
			WHERE user_id = ? AND is_active = TRUE AND id <> ? ORDER BY created_at, id`, sess.UserID, sess.ID)
		if err != nil {
			return err
		}
		at := sess.CreatedAt
		for _, old := range evicted {
			if _, err := s.exec(ctx, tx, `UPDATE sessions SET is_active = FALSE, termination_reason = ?, terminated_at = ?
				WHERE id = ?`, reason, toMillis(at), old.ID); err != nil {
				return err
			}
			old.IsActive = false
			old.TerminationReason = reason
			t := at
			old.TerminatedAt = &t
		}
		return s.upsertSession(ctx, tx, sess)
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

func (s *Store) DeactivateSession(ctx context.Context, sessionID, reason string, at time.Time) (*store.Session, bool, error) {
	n, err := s.exec(ctx, s.db, `UPDATE sessions SET is_active = FALSE, termination_reason = ?, terminated_at = ?
		WHERE id = ? AND is_active = TRUE`, reason, toMillis(at), sessionID)
	if err != nil {
		return nil, false, err
	}
	sess, err := s.FindSessionByID(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return sess, n > 0, nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, lastActivity, expiresAt time.Time) (bool, error) {
	n, err := s.exec(ctx, s.db, `UPDATE sessions SET last_activity_at = ?, expires_at = ?
		WHERE id = ? AND is_active = TRUE`, toMillis(lastActivity), toMillis(expiresAt), sessionID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) UpdateSessionAccessToken(ctx context.Context, sessionID, accessToken string) error {
	n, err := s.exec(ctx, s.db, `UPDATE sessions SET access_token = ? WHERE id = ?`, accessToken, sessionID)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindExpiredActiveSessions(ctx context.Context, now time.Time, limit int) ([]*store.Session, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.querySessions(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions
		WHERE is_active = TRUE AND expires_at <= ? ORDER BY expires_at, id LIMIT ?`, toMillis(now), limit)
}

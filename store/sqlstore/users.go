package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/MrEthical07/goIdentity/store"
)

const userColumns = `id, username, email, password_hash, status, failed_login_attempts,
	account_locked_until, first_login, current_session_id`

func scanUser(row interface{ Scan(dest ...any) error }) (*store.User, error) {
	var (
		u      store.User
		status string
		locked sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &status,
		&u.FailedLoginAttempts, &locked, &u.FirstLogin, &u.CurrentSessionID); err != nil {
		return nil, notFound(err)
	}
	u.Status = store.UserStatus(status)
	u.AccountLockedUntil = fromNullMillis(locked)
	return &u, nil
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	status := u.Status
	if status == "" {
		status = store.UserActive
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, string(status), u.FailedLoginAttempts,
		nullMillis(u.AccountLockedUntil), u.FirstLogin, u.CurrentSessionID)
	return err
}

func (s *Store) FindUserByID(ctx context.Context, userID string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), userID))
}

func (s *Store) FindUserByUsernameOrEmail(ctx context.Context, identifier string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users
		WHERE lower(username) = lower(?) OR lower(email) = lower(?)`), identifier, identifier))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users
		WHERE lower(email) = lower(?)`), email))
}

func (s *Store) SaveUser(ctx context.Context, u *store.User) error {
	n, err := s.exec(ctx, s.db, `UPDATE users SET username = ?, email = ?, password_hash = ?, status = ?,
		failed_login_attempts = ?, account_locked_until = ?, first_login = ?, current_session_id = ?
		WHERE id = ?`,
		u.Username, u.Email, u.PasswordHash, string(u.Status), u.FailedLoginAttempts,
		nullMillis(u.AccountLockedUntil), u.FirstLogin, u.CurrentSessionID, u.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementFailedLogins(ctx context.Context, userID string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, s.rebind(`UPDATE users SET failed_login_attempts = failed_login_attempts + 1
		WHERE id = ? RETURNING failed_login_attempts`), userID).Scan(&attempts)
	if err != nil {
		return 0, notFound(err)
	}
	return attempts, nil
}

func (s *Store) LockUser(ctx context.Context, userID string, until time.Time) error {
	return s.updateUser(ctx, `UPDATE users SET status = ?, account_locked_until = ? WHERE id = ?`,
		string(store.UserLocked), toMillis(until), userID)
}

func (s *Store) ClearLockout(ctx context.Context, userID string) error {
	return s.updateUser(ctx, `UPDATE users SET status = ?, failed_login_attempts = 0, account_locked_until = NULL
		WHERE id = ?`, string(store.UserActive), userID)
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.updateUser(ctx, `UPDATE users SET password_hash = ?, first_login = FALSE WHERE id = ?`,
		passwordHash, userID)
}

func (s *Store) RehashPassword(ctx context.Context, userID, passwordHash string) error {
	return s.updateUser(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID)
}

func (s *Store) SetCurrentSession(ctx context.Context, userID, sessionID string) error {
	return s.updateUser(ctx, `UPDATE users SET current_session_id = ? WHERE id = ?`, sessionID, userID)
}

func (s *Store) ClearCurrentSession(ctx context.Context, userID, sessionID string) (bool, error) {
	n, err := s.exec(ctx, s.db, `UPDATE users SET current_session_id = '' WHERE id = ? AND current_session_id = ?`,
		userID, sessionID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ResetCurrentSession(ctx context.Context, userID string) error {
	return s.updateUser(ctx, `UPDATE users SET current_session_id = '' WHERE id = ?`, userID)
}

func (s *Store) updateUser(ctx context.Context, query string, args ...any) error {
	n, err := s.exec(ctx, s.db, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

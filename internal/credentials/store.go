// Package credentials owns user identity reads and the lockout state
// machine: failed-attempt counting, locking, and lazy unlock on read.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/store"
)

var (
	// ErrUserNotFound is returned for unknown identifiers. The facade folds
	// it into invalid credentials.
	ErrUserNotFound = errors.New("credentials: user not found")
	// ErrUnavailable wraps store failures.
	ErrUnavailable = errors.New("credentials: store unavailable")
)

// Store is the credential view over store.UserStore with error mapping.
type Store struct {
	users store.UserStore
}

// NewStore wraps users.
func NewStore(users store.UserStore) *Store {
	return &Store{users: users}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrUserNotFound
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (s *Store) ByID(ctx context.Context, userID string) (*store.User, error) {
	u, err := s.users.FindUserByID(ctx, userID)
	return u, mapErr(err)
}

func (s *Store) ByIdentifier(ctx context.Context, usernameOrEmail string) (*store.User, error) {
	u, err := s.users.FindUserByUsernameOrEmail(ctx, usernameOrEmail)
	return u, mapErr(err)
}

func (s *Store) ByEmail(ctx context.Context, email string) (*store.User, error) {
	u, err := s.users.FindUserByEmail(ctx, email)
	return u, mapErr(err)
}

func (s *Store) incrementFailures(ctx context.Context, userID string) (int, error) {
	n, err := s.users.IncrementFailedLogins(ctx, userID)
	return n, mapErr(err)
}

func (s *Store) lock(ctx context.Context, userID string, until time.Time) error {
	return mapErr(s.users.LockUser(ctx, userID, until))
}

func (s *Store) clearLockout(ctx context.Context, userID string) error {
	return mapErr(s.users.ClearLockout(ctx, userID))
}

// UpdatePassword stores a new hash and clears the first-login flag.
func (s *Store) UpdatePassword(ctx context.Context, userID, hash string) error {
	return mapErr(s.users.UpdatePassword(ctx, userID, hash))
}

func (s *Store) rehash(ctx context.Context, userID, hash string) error {
	return mapErr(s.users.RehashPassword(ctx, userID, hash))
}

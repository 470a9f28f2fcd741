// Package store defines the persistence contract of the identity core and the
// logical entities it reads and writes.
//
// The store is the single source of truth. Caches in front of it are
// advisory and always written after (or together with) a store write.
//
// Methods that mutate counters or lock state are individual units of work:
// implementations must commit them independently of any caller transaction
// so a failed outer flow never loses an attempt increment.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("store: conflict")
)

// UserStatus is the persisted account state.
type UserStatus string

const (
	UserActive UserStatus = "ACTIVE"
	UserLocked UserStatus = "LOCKED"
)

// User is the identity record. Lockout fields may be stale: expiry of the lock
// window is evaluated lazily by the credential policy.
type User struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	Status              UserStatus
	FailedLoginAttempts int
	AccountLockedUntil  *time.Time
	FirstLogin          bool
	CurrentSessionID    string
}

// Session termination reasons.
const (
	ReasonLogout         = "LOGOUT"
	ReasonTimeout        = "TIMEOUT"
	ReasonDuplicateLogin = "DUPLICATE_LOGIN"
	ReasonAdmin          = "ADMIN"
	ReasonPasswordReset  = "PASSWORD_RESET"
)

// Session is a login session record.
type Session struct {
	ID                string
	UserID            string
	AccessToken       string
	RefreshToken      string
	IPAddress         string
	UserAgent         string
	DeviceType        string
	IsActive          bool
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	CreatedAt         time.Time
	TerminationReason string
	TerminatedAt      *time.Time
}

// OtpStatus is the challenge state.
type OtpStatus string

const (
	OtpPending  OtpStatus = "PENDING"
	OtpVerified OtpStatus = "VERIFIED"
	OtpExpired  OtpStatus = "EXPIRED"
	// OtpConsumed marks a VERIFIED challenge whose reset token was redeemed.
	OtpConsumed OtpStatus = "CONSUMED"
)

// DeliveryStatus tracks asynchronous delivery of the code to the user.
type DeliveryStatus string

const (
	DeliveryQueued DeliveryStatus = "QUEUED"
	DeliverySent   DeliveryStatus = "SENT"
	DeliveryFailed DeliveryStatus = "FAILED"
)

// OtpRecord is an OTP challenge. Records are never deleted.
type OtpRecord struct {
	RequestID      string
	UserID         string
	OtpHash        string
	Purpose        string
	Status         OtpStatus
	AttemptCount   int
	MaxAttempts    int
	ExpiresAt      time.Time
	CreatedAt      time.Time
	DeliveryStatus DeliveryStatus
	DeliveryID     string
}

// Role is a named group of permissions.
type Role struct {
	ID   string
	Code string
}

// Permission is a single grant code.
type Permission struct {
	ID   string
	Code string
}

// UserStore covers identity and lockout state.
type UserStore interface {
	FindUserByID(ctx context.Context, userID string) (*User, error)
	FindUserByUsernameOrEmail(ctx context.Context, identifier string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	SaveUser(ctx context.Context, user *User) error

	// IncrementFailedLogins atomically increments the counter and returns the
	// new value.
	IncrementFailedLogins(ctx context.Context, userID string) (int, error)
	LockUser(ctx context.Context, userID string, until time.Time) error
	// ClearLockout zeroes the counter, clears the lock window and sets ACTIVE.
	ClearLockout(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	// RehashPassword swaps the stored hash and leaves first_login alone.
	RehashPassword(ctx context.Context, userID, passwordHash string) error

	SetCurrentSession(ctx context.Context, userID, sessionID string) error
	// ClearCurrentSession clears the pointer only if it equals sessionID and
	// reports whether it did.
	ClearCurrentSession(ctx context.Context, userID, sessionID string) (bool, error)
	ResetCurrentSession(ctx context.Context, userID string) error
}

// SessionStore covers session records.
type SessionStore interface {
	FindSessionByID(ctx context.Context, sessionID string) (*Session, error)
	FindSessionByAccessToken(ctx context.Context, token string) (*Session, error)
	FindSessionByRefreshToken(ctx context.Context, token string) (*Session, error)
	SaveSession(ctx context.Context, session *Session) error
	FindActiveSessionsByUser(ctx context.Context, userID string) ([]*Session, error)

	// InsertExclusiveSession deactivates every other active session of the
	// user with reason, inserts session and points the user at it, all in one
	// unit of work. It returns the sessions it deactivated.
	InsertExclusiveSession(ctx context.Context, session *Session, reason string) ([]*Session, error)
	// DeactivateSession flips an active session to inactive. It returns the
	// session and whether this call performed the transition.
	DeactivateSession(ctx context.Context, sessionID, reason string, at time.Time) (*Session, bool, error)
	// TouchSession slides activity for an active session. It reports false if
	// the session is missing or already inactive.
	TouchSession(ctx context.Context, sessionID string, lastActivity, expiresAt time.Time) (bool, error)
	UpdateSessionAccessToken(ctx context.Context, sessionID, accessToken string) error
	FindExpiredActiveSessions(ctx context.Context, now time.Time, limit int) ([]*Session, error)
}

// OtpStore covers OTP challenge records.
type OtpStore interface {
	// IssueOtp stores record as the PENDING challenge for its (user, purpose).
	// If one already exists it keeps its request id and creation time and
	// takes every other field from record; record is updated to match and
	// reused reports that case. Concurrent calls for the same pair leave
	// exactly one PENDING challenge.
	IssueOtp(ctx context.Context, record *OtpRecord) (reused bool, err error)
	FindOtpByRequestID(ctx context.Context, requestID string) (*OtpRecord, error)
	FindPendingOtp(ctx context.Context, userID, purpose string) (*OtpRecord, error)
	// ReserveOtpAttempt atomically spends one attempt of a PENDING challenge
	// whose budget is not exhausted and returns the new count. ok is false,
	// and nothing is written, when the challenge is not PENDING or its
	// budget is already spent.
	ReserveOtpAttempt(ctx context.Context, requestID string) (count int, ok bool, err error)
	// TransitionOtpStatus moves the challenge from one status to another.
	// It reports false when the challenge was not in from.
	TransitionOtpStatus(ctx context.Context, requestID string, from, to OtpStatus) (bool, error)
	UpdateOtpDelivery(ctx context.Context, requestID string, status DeliveryStatus, deliveryID string) error
}

// RoleStore covers role assignment and role permission sets. Mutations
// report whether anything changed.
type RoleStore interface {
	FindRolesByUser(ctx context.Context, userID string) ([]Role, error)
	FindPermissionsByRoles(ctx context.Context, roleIDs []string) ([]Permission, error)

	AssignRole(ctx context.Context, userID, roleID string) (bool, error)
	RevokeRole(ctx context.Context, userID, roleID string) (bool, error)
	ReplaceUserRoles(ctx context.Context, userID string, roleIDs []string) (bool, error)

	AssignPermissions(ctx context.Context, roleID string, permissionIDs []string) (bool, error)
	RevokePermission(ctx context.Context, roleID, permissionID string) (bool, error)
	ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (bool, error)
}

// Store is the full persistence contract consumed by the engine.
type Store interface {
	UserStore
	SessionStore
	OtpStore
	RoleStore
}

// SetEqual reports whether a and b hold the same distinct ids.
func SetEqual(a, b []string) bool {
	as := Dedupe(a)
	bs := Dedupe(b)
	if len(as) != len(bs) {
		return false
	}
	seen := make(map[string]struct{}, len(as))
	for _, id := range as {
		seen[id] = struct{}{}
	}
	for _, id := range bs {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}

// Dedupe returns ids without duplicates or empty strings, preserving order.
func Dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

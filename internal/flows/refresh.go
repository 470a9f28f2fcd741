package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/store"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureRevoked
	RefreshFailureDecode
	RefreshFailureSessionNotFound
	RefreshFailureSessionInactive
	RefreshFailureAccountLocked
	RefreshFailureIssueAccess
	RefreshFailureStore
)

// RefreshResult carries either the issued access token or failure metadata.
type RefreshResult struct {
	Failure     RefreshFailureKind
	Err         error
	UserID      string
	SessionID   string
	AccessToken string
	ExpiresAt   time.Time
}

// RefreshMetrics carries metric IDs needed by the refresh flow.
type RefreshMetrics struct {
	RefreshSuccess int
	RefreshFailure int
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	IsRevoked            func(ctx context.Context, token string) (bool, error)
	ParseRefresh         func(token string) (*jwt.RefreshClaims, error)
	FindSession          func(ctx context.Context, refreshToken string) (*store.Session, error)
	IsSessionNotFound    func(error) bool
	ValidateSession      func(ctx context.Context, sessionID string) (bool, error)
	FindUser             func(ctx context.Context, userID string) (*store.User, error)
	IsLocked             func(ctx context.Context, u *store.User) (bool, error)
	RemainingLockMinutes func(u *store.User) int
	ResolvePermissions   func(ctx context.Context, userID string) (roles, permissions []string, err error)
	IssueAccess          func(in jwt.AccessInput) (string, time.Time, error)
	UpdateAccessToken    func(ctx context.Context, sessionID, token string) error

	MetricInc func(int)
	EmitAudit Emitter

	Metrics RefreshMetrics
	Errors  Errors
}

// RunRefresh exchanges a refresh token for a new access token bound to the
// same session. The refresh token itself is never rotated. The revocation
// check runs before the signature is looked at.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.MetricInc == nil {
		deps.MetricInc = noopInc
	}
	res := runRefresh(ctx, refreshToken, deps)
	if res.Failure == RefreshFailureNone {
		deps.MetricInc(deps.Metrics.RefreshSuccess)
		deps.EmitAudit.emit(ctx, audit.RefreshSuccess, true, res.UserID, res.SessionID, nil, nil)
	} else {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.EmitAudit.emit(ctx, audit.RefreshFailure, false, res.UserID, res.SessionID, res.Err, nil)
	}
	return res
}

func runRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	revoked, err := deps.IsRevoked(ctx, refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: err}
	}
	if revoked {
		return RefreshResult{Failure: RefreshFailureRevoked, Err: deps.Errors.TokenInvalid}
	}

	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: deps.Errors.TokenInvalid}
	}

	sess, err := deps.FindSession(ctx, refreshToken)
	if err != nil {
		if deps.IsSessionNotFound(err) {
			return RefreshResult{Failure: RefreshFailureSessionNotFound, Err: deps.Errors.TokenInvalid, UserID: claims.Subject}
		}
		return RefreshResult{Failure: RefreshFailureStore, Err: deps.Errors.Store(err), UserID: claims.Subject}
	}
	if sess.UserID != claims.Subject {
		return RefreshResult{Failure: RefreshFailureDecode, Err: deps.Errors.TokenInvalid, UserID: claims.Subject}
	}

	ok, err := deps.ValidateSession(ctx, sess.ID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: deps.Errors.Store(err), UserID: sess.UserID, SessionID: sess.ID}
	}
	if !ok {
		return RefreshResult{Failure: RefreshFailureSessionInactive, Err: deps.Errors.SessionInactive, UserID: sess.UserID, SessionID: sess.ID}
	}

	user, err := deps.FindUser(ctx, sess.UserID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: deps.Errors.Store(err), UserID: sess.UserID, SessionID: sess.ID}
	}
	locked, err := deps.IsLocked(ctx, user)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: deps.Errors.Store(err), UserID: user.ID, SessionID: sess.ID}
	}
	if locked {
		return RefreshResult{
			Failure:   RefreshFailureAccountLocked,
			Err:       deps.Errors.Locked(lockedUntil(user), deps.RemainingLockMinutes(user)),
			UserID:    user.ID,
			SessionID: sess.ID,
		}
	}

	roles, perms, err := deps.ResolvePermissions(ctx, user.ID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: user.ID, SessionID: sess.ID}
	}
	access, exp, err := deps.IssueAccess(jwt.AccessInput{
		UserID:      user.ID,
		SessionID:   sess.ID,
		Username:    user.Username,
		Email:       user.Email,
		Roles:       roles,
		Permissions: perms,
	})
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssueAccess, Err: err, UserID: user.ID, SessionID: sess.ID}
	}
	if err := deps.UpdateAccessToken(ctx, sess.ID, access); err != nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: deps.Errors.Store(err), UserID: user.ID, SessionID: sess.ID}
	}

	return RefreshResult{
		Failure:     RefreshFailureNone,
		UserID:      user.ID,
		SessionID:   sess.ID,
		AccessToken: access,
		ExpiresAt:   exp,
	}
}

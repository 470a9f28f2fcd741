package flows

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/MrEthical07/goIdentity/store"
)

// LoginRequest is the flow-local login input.
type LoginRequest struct {
	Identifier string
	Password   string
	IPAddress  string
	UserAgent  string
	DeviceType string
}

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	UserID           string
	SessionID        string
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	SessionExpiresAt time.Time
	FirstLogin       bool
	Evicted          []string
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess   int
	LoginFailure   int
	AccountLocked  int
	SessionCreated int
	SessionEvicted int
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Now func() time.Time

	FindUser       func(ctx context.Context, identifier string) (*store.User, error)
	IsUserNotFound func(error) bool

	IsLocked             func(ctx context.Context, u *store.User) (bool, error)
	RemainingLockMinutes func(u *store.User) int
	VerifyPassword       func(raw, hash string) bool
	EqualizeTiming       func(raw string)
	HandleFailedLogin    func(ctx context.Context, u *store.User) (int, error)
	ResetFailedAttempts  func(ctx context.Context, u *store.User) error
	UpgradeHash          func(ctx context.Context, u *store.User, raw string)

	ResolvePermissions func(ctx context.Context, userID string) (roles, permissions []string, err error)
	NewSessionID       func() (string, error)
	IssueAccess        func(in jwt.AccessInput) (string, time.Time, error)
	IssueRefresh       func(userID, username string) (string, time.Time, error)
	CreateSession      func(ctx context.Context, in session.NewSession) (*session.CreateResult, error)

	MetricInc func(int)
	EmitAudit Emitter

	Metrics LoginMetrics
	Errors  Errors
}

// RunLogin verifies credentials with lockout accounting and opens a session.
// Unknown identifiers and wrong passwords fail with the same credentials
// error; only known accounts carry a remaining-attempts figure.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) (*LoginResult, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopInc
	}
	if deps.FindUser == nil ||
		deps.VerifyPassword == nil ||
		deps.HandleFailedLogin == nil ||
		deps.IssueAccess == nil ||
		deps.CreateSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit.emit(ctx, audit.LoginFailure, false, "", "", deps.Errors.InvalidCredentials, map[string]string{
			"reason": "empty_input",
		})
		return nil, deps.Errors.Credentials(-1)
	}

	user, err := deps.FindUser(ctx, identifier)
	if err != nil {
		if deps.IsUserNotFound != nil && deps.IsUserNotFound(err) {
			if deps.EqualizeTiming != nil {
				deps.EqualizeTiming(req.Password)
			}
			deps.MetricInc(deps.Metrics.LoginFailure)
			deps.EmitAudit.emit(ctx, audit.LoginFailure, false, "", "", deps.Errors.InvalidCredentials, map[string]string{
				"identifier": identifier,
				"reason":     "user_not_found",
			})
			return nil, deps.Errors.Credentials(-1)
		}
		return nil, deps.Errors.Store(err)
	}

	locked, err := deps.IsLocked(ctx, user)
	if err != nil {
		return nil, deps.Errors.Store(err)
	}
	if locked {
		minutes := deps.RemainingLockMinutes(user)
		lockErr := deps.Errors.Locked(lockedUntil(user), minutes)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit.emit(ctx, audit.LoginFailure, false, user.ID, "", lockErr, map[string]string{
			"reason": "account_locked",
		})
		return nil, lockErr
	}

	if !deps.VerifyPassword(req.Password, user.PasswordHash) {
		remaining, err := deps.HandleFailedLogin(ctx, user)
		if err != nil {
			return nil, deps.Errors.Store(err)
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		if remaining == 0 {
			minutes := deps.RemainingLockMinutes(user)
			lockErr := deps.Errors.Locked(lockedUntil(user), minutes)
			deps.MetricInc(deps.Metrics.AccountLocked)
			deps.EmitAudit.emit(ctx, audit.AccountLocked, true, user.ID, "", nil, map[string]string{
				"failed_attempts":   strconv.Itoa(user.FailedLoginAttempts),
				"remaining_minutes": strconv.Itoa(minutes),
			})
			return nil, lockErr
		}
		credErr := deps.Errors.Credentials(remaining)
		deps.EmitAudit.emit(ctx, audit.LoginFailure, false, user.ID, "", credErr, map[string]string{
			"reason":             "password_mismatch",
			"remaining_attempts": strconv.Itoa(remaining),
		})
		return nil, credErr
	}

	if err := deps.ResetFailedAttempts(ctx, user); err != nil {
		return nil, deps.Errors.Store(err)
	}
	if deps.UpgradeHash != nil {
		deps.UpgradeHash(ctx, user, req.Password)
	}

	roles, perms, err := deps.ResolvePermissions(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	sessionID, err := deps.NewSessionID()
	if err != nil {
		return nil, err
	}
	access, accessExp, err := deps.IssueAccess(jwt.AccessInput{
		UserID:      user.ID,
		SessionID:   sessionID,
		Username:    user.Username,
		Email:       user.Email,
		Roles:       roles,
		Permissions: perms,
	})
	if err != nil {
		return nil, err
	}
	refresh, _, err := deps.IssueRefresh(user.ID, user.Username)
	if err != nil {
		return nil, err
	}

	created, err := deps.CreateSession(ctx, session.NewSession{
		ID:           sessionID,
		UserID:       user.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		DeviceType:   req.DeviceType,
	})
	if err != nil {
		return nil, deps.Errors.Store(err)
	}

	evicted := make([]string, 0, len(created.Evicted))
	for _, s := range created.Evicted {
		evicted = append(evicted, s.ID)
		deps.MetricInc(deps.Metrics.SessionEvicted)
	}
	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit.emit(ctx, audit.LoginSuccess, true, user.ID, sessionID, nil, map[string]string{
		"ip":          req.IPAddress,
		"device_type": req.DeviceType,
		"evicted":     strconv.Itoa(len(evicted)),
	})

	return &LoginResult{
		UserID:           user.ID,
		SessionID:        sessionID,
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        accessExp,
		SessionExpiresAt: created.Session.ExpiresAt,
		FirstLogin:       user.FirstLogin,
		Evicted:          evicted,
	}, nil
}

func lockedUntil(u *store.User) time.Time {
	if u.AccountLockedUntil == nil {
		return time.Time{}
	}
	return *u.AccountLockedUntil
}

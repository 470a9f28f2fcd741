package flows

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/store"
)

const (
	problemMismatch = "confirmation does not match the new password"
	problemReuse    = "new password must differ from the current password"
)

// ResetPasswordRequest is the flow-local reset input.
type ResetPasswordRequest struct {
	ResetToken      string
	NewPassword     string
	ConfirmPassword string
}

// ChangePasswordRequest is the flow-local change input.
type ChangePasswordRequest struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// PasswordMetrics carries metric IDs needed by the password flows.
type PasswordMetrics struct {
	PasswordReset        int
	PasswordResetFailure int
	PasswordChanged      int
	PasswordChangeFailed int
}

// PasswordDeps captures password reset and change dependencies.
type PasswordDeps struct {
	IsRevoked       func(ctx context.Context, token string) (bool, error)
	RevokeToken     func(ctx context.Context, token string) error
	ParseReset      func(token string) (*jwt.ResetClaims, error)
	LookupChallenge func(ctx context.Context, requestID string) (*store.OtpRecord, error)
	// ConsumeChallenge moves a VERIFIED challenge to CONSUMED and reports
	// whether this call won.
	ConsumeChallenge func(ctx context.Context, requestID string) (bool, error)

	FindUser             func(ctx context.Context, userID string) (*store.User, error)
	IsUserNotFound       func(error) bool
	IsLocked             func(ctx context.Context, u *store.User) (bool, error)
	RemainingLockMinutes func(u *store.User) int
	VerifyPassword       func(raw, hash string) bool
	HandleFailedLogin    func(ctx context.Context, u *store.User) (int, error)
	ResetFailedAttempts  func(ctx context.Context, u *store.User) error
	Unlock               func(ctx context.Context, u *store.User) error
	CheckStrength        func(raw string) error
	Hash                 func(raw string) (string, error)
	UpdatePassword       func(ctx context.Context, userID, hash string) error
	TerminateAll         func(ctx context.Context, userID, reason string) (int, error)

	MetricInc func(int)
	EmitAudit Emitter

	Metrics PasswordMetrics
	Errors  Errors
}

// RunResetPassword sets a new password using a reset token minted by a
// verified OTP challenge. The challenge moves to CONSUMED before the password
// is written, so a token is redeemed at most once even without the
// revocation cache. The account is unlocked and every session of the user
// ends.
func RunResetPassword(ctx context.Context, req ResetPasswordRequest, deps PasswordDeps) error {
	if deps.MetricInc == nil {
		deps.MetricInc = noopInc
	}
	if deps.ParseReset == nil || deps.ConsumeChallenge == nil || deps.UpdatePassword == nil {
		return deps.Errors.EngineNotReady
	}
	err := runResetPassword(ctx, req, deps)
	if err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetFailure)
	}
	return err
}

func runResetPassword(ctx context.Context, req ResetPasswordRequest, deps PasswordDeps) error {
	if req.ResetToken == "" {
		return deps.Errors.TokenInvalid
	}
	revoked, err := deps.IsRevoked(ctx, req.ResetToken)
	if err != nil {
		return err
	}
	if revoked {
		return deps.Errors.TokenInvalid
	}
	claims, err := deps.ParseReset(req.ResetToken)
	if err != nil {
		return deps.Errors.TokenInvalid
	}

	rec, err := deps.LookupChallenge(ctx, claims.RequestID)
	if err != nil || rec.Status != store.OtpVerified || rec.UserID != claims.Subject {
		deps.EmitAudit.emit(ctx, audit.PasswordReset, false, claims.Subject, "", deps.Errors.TokenInvalid, map[string]string{
			"request_id": claims.RequestID,
			"reason":     "challenge_mismatch",
		})
		return deps.Errors.TokenInvalid
	}

	user, err := deps.FindUser(ctx, claims.Subject)
	if err != nil {
		if deps.IsUserNotFound != nil && deps.IsUserNotFound(err) {
			return deps.Errors.TokenInvalid
		}
		return deps.Errors.Store(err)
	}

	if problems := newPasswordProblems(user, req.NewPassword, req.ConfirmPassword, deps); len(problems) > 0 {
		return deps.Errors.Validation(problems...)
	}

	hash, err := deps.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	consumed, err := deps.ConsumeChallenge(ctx, claims.RequestID)
	if err != nil {
		return deps.Errors.Store(err)
	}
	if !consumed {
		deps.EmitAudit.emit(ctx, audit.PasswordReset, false, claims.Subject, "", deps.Errors.TokenInvalid, map[string]string{
			"request_id": claims.RequestID,
			"reason":     "challenge_consumed",
		})
		return deps.Errors.TokenInvalid
	}
	if err := deps.RevokeToken(ctx, req.ResetToken); err != nil {
		return err
	}
	if err := deps.UpdatePassword(ctx, user.ID, hash); err != nil {
		return deps.Errors.Store(err)
	}
	if err := deps.Unlock(ctx, user); err != nil {
		return deps.Errors.Store(err)
	}
	terminated, err := deps.TerminateAll(ctx, user.ID, store.ReasonPasswordReset)
	if err != nil {
		return err
	}

	deps.MetricInc(deps.Metrics.PasswordReset)
	deps.EmitAudit.emit(ctx, audit.PasswordReset, true, user.ID, "", nil, map[string]string{
		"request_id":          claims.RequestID,
		"sessions_terminated": strconv.Itoa(terminated),
	})
	return nil
}

// RunChangePassword replaces the password of an authenticated user. A wrong
// current password counts toward lockout like a failed login.
func RunChangePassword(ctx context.Context, req ChangePasswordRequest, deps PasswordDeps) error {
	if deps.MetricInc == nil {
		deps.MetricInc = noopInc
	}
	if deps.FindUser == nil || deps.UpdatePassword == nil {
		return deps.Errors.EngineNotReady
	}

	user, err := deps.FindUser(ctx, req.UserID)
	if err != nil {
		if deps.IsUserNotFound != nil && deps.IsUserNotFound(err) {
			deps.MetricInc(deps.Metrics.PasswordChangeFailed)
			return deps.Errors.Credentials(-1)
		}
		return deps.Errors.Store(err)
	}

	locked, err := deps.IsLocked(ctx, user)
	if err != nil {
		return deps.Errors.Store(err)
	}
	if locked {
		deps.MetricInc(deps.Metrics.PasswordChangeFailed)
		return deps.Errors.Locked(lockedUntil(user), deps.RemainingLockMinutes(user))
	}

	if !deps.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		deps.MetricInc(deps.Metrics.PasswordChangeFailed)
		remaining, err := deps.HandleFailedLogin(ctx, user)
		if err != nil {
			return deps.Errors.Store(err)
		}
		if remaining == 0 {
			lockErr := deps.Errors.Locked(lockedUntil(user), deps.RemainingLockMinutes(user))
			deps.EmitAudit.emit(ctx, audit.AccountLocked, true, user.ID, "", nil, map[string]string{
				"cause": "password_change",
			})
			return lockErr
		}
		credErr := deps.Errors.Credentials(remaining)
		deps.EmitAudit.emit(ctx, audit.PasswordChanged, false, user.ID, "", credErr, nil)
		return credErr
	}

	if problems := newPasswordProblems(user, req.NewPassword, req.ConfirmPassword, deps); len(problems) > 0 {
		deps.MetricInc(deps.Metrics.PasswordChangeFailed)
		return deps.Errors.Validation(problems...)
	}

	hash, err := deps.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	if err := deps.UpdatePassword(ctx, user.ID, hash); err != nil {
		return deps.Errors.Store(err)
	}
	if err := deps.ResetFailedAttempts(ctx, user); err != nil {
		return deps.Errors.Store(err)
	}

	deps.MetricInc(deps.Metrics.PasswordChanged)
	deps.EmitAudit.emit(ctx, audit.PasswordChanged, true, user.ID, "", nil, map[string]string{
		"first_login": strconv.FormatBool(user.FirstLogin),
	})
	return nil
}

// newPasswordProblems lists strength violations first, then confirmation
// and reuse, in a fixed order.
func newPasswordProblems(u *store.User, newPassword, confirm string, deps PasswordDeps) []string {
	var problems []string
	if err := deps.CheckStrength(newPassword); err != nil {
		var se *password.StrengthError
		if errors.As(err, &se) {
			problems = append(problems, se.Violations...)
		} else {
			problems = append(problems, err.Error())
		}
	}
	if newPassword != confirm {
		problems = append(problems, problemMismatch)
	}
	if len(problems) == 0 && deps.VerifyPassword(newPassword, u.PasswordHash) {
		problems = append(problems, problemReuse)
	}
	return problems
}

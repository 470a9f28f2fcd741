package goIdentity

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/internal/credentials"
	internalflows "github.com/MrEthical07/goIdentity/internal/flows"
)

// ResetPassword sets a new password using a reset token from VerifyOTP.
//
// The token is single use: it is revoked before the password is written. On
// success the account is unlocked and every session of the user ends with
// reason PASSWORD_RESET. Weak, mismatched or reused passwords fail with
// *ValidationError listing every problem.
func (e *Engine) ResetPassword(ctx context.Context, resetToken, newPassword, confirmPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.ResetPassword(ctx, internalflows.ResetPasswordRequest{
		ResetToken:      resetToken,
		NewPassword:     newPassword,
		ConfirmPassword: confirmPassword,
	})
}

// ChangePassword replaces the password of an authenticated user. A wrong
// current password counts toward lockout like a failed login. Existing
// sessions are left alone.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, confirmPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.ChangePassword(ctx, internalflows.ChangePasswordRequest{
		UserID:          userID,
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
		ConfirmPassword: confirmPassword,
	})
}

func (e *Engine) passwordFlowDeps() internalflows.PasswordDeps {
	return internalflows.PasswordDeps{
		IsRevoked:        e.IsTokenRevoked,
		RevokeToken:      e.RevokeToken,
		ParseReset:       e.jwtManager.ParseReset,
		LookupChallenge:  e.challenges.Lookup,
		ConsumeChallenge: e.challenges.Consume,
		FindUser:         e.users.ByID,
		IsUserNotFound: func(err error) bool {
			return errors.Is(err, credentials.ErrUserNotFound)
		},
		IsLocked:             e.policy.IsLocked,
		RemainingLockMinutes: e.policy.RemainingLockMinutes,
		VerifyPassword:       e.policy.Verify,
		HandleFailedLogin:    e.policy.HandleFailedLogin,
		ResetFailedAttempts:  e.policy.ResetFailedAttempts,
		Unlock:               e.policy.Unlock,
		CheckStrength:        e.policy.CheckStrength,
		Hash:                 e.policy.Hash,
		UpdatePassword:       e.users.UpdatePassword,
		TerminateAll: func(ctx context.Context, userID, reason string) (int, error) {
			return e.flows.TerminateAll(ctx, userID, reason)
		},
		MetricInc: e.flowMetricInc,
		EmitAudit: e.emitAudit,
		Metrics: internalflows.PasswordMetrics{
			PasswordReset:        int(MetricPasswordResetSuccess),
			PasswordResetFailure: int(MetricPasswordResetFailure),
			PasswordChanged:      int(MetricPasswordChangeSuccess),
			PasswordChangeFailed: int(MetricPasswordChangeFailure),
		},
		Errors: e.flowErrors(),
	}
}

package goIdentity

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/MrEthical07/goIdentity/internal/credentials"
	internalflows "github.com/MrEthical07/goIdentity/internal/flows"
)

// RequestOTP issues a one-time code for purpose to the account identified by
// usernameOrEmail and queues its delivery. A pending challenge for the same
// user and purpose is reused: same request id, attempt counter back to zero,
// fresh code and expiry.
//
// The response has the same shape for unknown identifiers and locked
// accounts; no code is sent in those cases.
func (e *Engine) RequestOTP(ctx context.Context, usernameOrEmail, purpose string) (*OTPRequestResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	purpose = strings.TrimSpace(purpose)
	if purpose != "" && len(e.config.OTP.Purposes) > 0 && !slices.Contains(e.config.OTP.Purposes, purpose) {
		return nil, &ValidationError{Problems: []string{"unsupported purpose " + purpose}}
	}
	res, err := e.flows.RequestOTP(ctx, usernameOrEmail, purpose)
	if err != nil {
		return nil, err
	}
	return &OTPRequestResult{
		RequestID:         res.RequestID,
		MaskedDestination: res.MaskedDestination,
		ExpiresAt:         res.ExpiresAt,
		RemainingAttempts: res.RemainingAttempts,
	}, nil
}

// VerifyOTP checks code against the challenge requestID. On success the
// challenge becomes VERIFIED and a reset token is returned.
//
// A wrong code fails with *OTPError carrying the remaining attempts; the
// attempt that exhausts the budget also locks the account, and the returned
// error then matches ErrAccountLocked too. Challenges that are expired or
// already used fail with ErrOTPExpired.
func (e *Engine) VerifyOTP(ctx context.Context, requestID, code string) (*OTPVerifyResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := e.flows.VerifyOTP(ctx, requestID, code)
	if err != nil {
		return nil, err
	}
	return &OTPVerifyResult{
		ResetToken: res.ResetToken,
		ExpiresAt:  res.ExpiresAt,
	}, nil
}

func (e *Engine) otpTemplate(purpose string) string {
	if id, ok := e.config.Notification.Templates[purpose]; ok && id != "" {
		return id
	}
	return purpose
}

func (e *Engine) otpFlowDeps() internalflows.OTPDeps {
	return internalflows.OTPDeps{
		Now:      e.now,
		FindUser: e.users.ByIdentifier,
		IsUserNotFound: func(err error) bool {
			return errors.Is(err, credentials.ErrUserNotFound)
		},
		IsLocked:    e.policy.IsLocked,
		Issue:       e.challenges.Request,
		Verify:      e.challenges.Verify,
		Expiry:      e.challenges.Expiry,
		MaxAttempts: e.challenges.MaxAttempts,
		TemplateID:  e.otpTemplate,
		Deliver:     e.delivery.Enqueue,
		MetricInc:   e.flowMetricInc,
		EmitAudit:   e.emitAudit,
		Metrics: internalflows.OTPMetrics{
			OTPRequested:     int(MetricOTPRequested),
			OTPVerified:      int(MetricOTPVerified),
			OTPFailed:        int(MetricOTPFailed),
			OTPAccountLocked: int(MetricOTPAccountLocked),
		},
		Errors: e.flowErrors(),
	}
}

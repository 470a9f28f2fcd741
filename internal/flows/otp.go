package flows

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/otp"
	"github.com/MrEthical07/goIdentity/notify"
	"github.com/MrEthical07/goIdentity/store"
)

// OTPRequestResult is returned for known and unknown identifiers alike.
type OTPRequestResult struct {
	RequestID         string
	MaskedDestination string
	ExpiresAt         time.Time
	RemainingAttempts int
}

// OTPVerifyResult carries the reset token minted by a successful verify.
type OTPVerifyResult struct {
	UserID     string
	RequestID  string
	ResetToken string
	ExpiresAt  time.Time
}

// OTPMetrics carries metric IDs needed by the OTP flows.
type OTPMetrics struct {
	OTPRequested     int
	OTPVerified      int
	OTPFailed        int
	OTPAccountLocked int
}

// OTPDeps captures OTP request and verification dependencies.
type OTPDeps struct {
	Now func() time.Time

	FindUser       func(ctx context.Context, identifier string) (*store.User, error)
	IsUserNotFound func(error) bool
	IsLocked       func(ctx context.Context, u *store.User) (bool, error)

	Issue       func(ctx context.Context, userID, purpose string) (*otp.Issued, error)
	Verify      func(ctx context.Context, requestID, code string) (*otp.Verified, error)
	Expiry      func() time.Duration
	MaxAttempts func() int

	TemplateID func(purpose string) string
	Deliver    func(d notify.Delivery)

	MetricInc func(int)
	EmitAudit Emitter

	Metrics OTPMetrics
	Errors  Errors
}

// RunRequestOTP issues or re-issues a challenge and queues its delivery.
// Unknown identifiers and locked accounts receive a decoy response of the
// same shape so the call cannot be used to probe for accounts.
func RunRequestOTP(ctx context.Context, identifier, purpose string, deps OTPDeps) (*OTPRequestResult, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopInc
	}
	if deps.FindUser == nil || deps.Issue == nil {
		return nil, deps.Errors.EngineNotReady
	}

	identifier = strings.TrimSpace(identifier)
	purpose = strings.TrimSpace(purpose)
	var problems []string
	if identifier == "" {
		problems = append(problems, "identifier is required")
	}
	if purpose == "" {
		problems = append(problems, "purpose is required")
	}
	if len(problems) > 0 {
		return nil, deps.Errors.Validation(problems...)
	}

	user, err := deps.FindUser(ctx, identifier)
	if err != nil {
		if deps.IsUserNotFound != nil && deps.IsUserNotFound(err) {
			deps.EmitAudit.emit(ctx, audit.OTPRequested, false, "", "", nil, map[string]string{
				"purpose": purpose,
				"reason":  "user_not_found",
			})
			return decoyRequest(identifier, deps), nil
		}
		return nil, deps.Errors.Store(err)
	}

	locked, err := deps.IsLocked(ctx, user)
	if err != nil {
		return nil, deps.Errors.Store(err)
	}
	if locked {
		deps.EmitAudit.emit(ctx, audit.OTPRequested, false, user.ID, "", nil, map[string]string{
			"purpose": purpose,
			"reason":  "account_locked",
		})
		return decoyRequest(user.Email, deps), nil
	}

	issued, err := deps.Issue(ctx, user.ID, purpose)
	if err != nil {
		return nil, deps.Errors.Store(err)
	}

	if deps.Deliver != nil {
		templateID := purpose
		if deps.TemplateID != nil {
			templateID = deps.TemplateID(purpose)
		}
		deps.Deliver(notify.Delivery{
			RequestID:   issued.RequestID,
			Destination: user.Email,
			TemplateID:  templateID,
			Vars: map[string]string{
				"code":            issued.Code,
				"username":        user.Username,
				"purpose":         purpose,
				"expires_minutes": strconv.Itoa(int(math.Ceil(issued.ExpiresAt.Sub(deps.Now()).Minutes()))),
			},
		})
	}

	deps.MetricInc(deps.Metrics.OTPRequested)
	deps.EmitAudit.emit(ctx, audit.OTPRequested, true, user.ID, "", nil, map[string]string{
		"purpose":    purpose,
		"request_id": issued.RequestID,
		"reused":     strconv.FormatBool(issued.Reused),
	})

	return &OTPRequestResult{
		RequestID:         issued.RequestID,
		MaskedDestination: notify.MaskEmail(user.Email),
		ExpiresAt:         issued.ExpiresAt,
		RemainingAttempts: issued.RemainingAttempts,
	}, nil
}

func decoyRequest(destination string, deps OTPDeps) *OTPRequestResult {
	expiry := 10 * time.Minute
	if deps.Expiry != nil {
		expiry = deps.Expiry()
	}
	remaining := 3
	if deps.MaxAttempts != nil {
		remaining = deps.MaxAttempts()
	}
	masked := ""
	if strings.Contains(destination, "@") {
		masked = notify.MaskEmail(destination)
	}
	return &OTPRequestResult{
		RequestID:         internal.NewRequestID(),
		MaskedDestination: masked,
		ExpiresAt:         deps.Now().Add(expiry),
		RemainingAttempts: remaining,
	}
}

// RunVerifyOTP checks code against the challenge and returns a reset token.
// A challenge that is no longer pending reports as expired; an unknown
// request id reports as an invalid code with nothing remaining.
func RunVerifyOTP(ctx context.Context, requestID, code string, deps OTPDeps) (*OTPVerifyResult, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopInc
	}
	if deps.Verify == nil {
		return nil, deps.Errors.EngineNotReady
	}

	requestID = strings.TrimSpace(requestID)
	code = strings.TrimSpace(code)
	if requestID == "" || code == "" {
		deps.MetricInc(deps.Metrics.OTPFailed)
		return nil, deps.Errors.OTP(0, time.Time{})
	}

	v, err := deps.Verify(ctx, requestID, code)
	if err == nil {
		deps.MetricInc(deps.Metrics.OTPVerified)
		deps.EmitAudit.emit(ctx, audit.OTPVerified, true, v.Record.UserID, "", nil, map[string]string{
			"request_id": requestID,
			"purpose":    v.Record.Purpose,
		})
		return &OTPVerifyResult{
			UserID:     v.Record.UserID,
			RequestID:  requestID,
			ResetToken: v.ResetToken,
			ExpiresAt:  v.ResetExpiresAt,
		}, nil
	}

	deps.MetricInc(deps.Metrics.OTPFailed)
	meta := map[string]string{"request_id": requestID}

	var verr *otp.VerifyError
	switch {
	case errors.As(err, &verr) && errors.Is(err, otp.ErrAttemptsExceeded):
		out := errors.Join(deps.Errors.OTPMaxAttemptsExceeded, deps.Errors.Locked(verr.LockedUntil, minutesUntil(deps.Now(), verr.LockedUntil)))
		deps.MetricInc(deps.Metrics.OTPAccountLocked)
		meta["reason"] = "attempts_exceeded"
		deps.EmitAudit.emit(ctx, audit.OTPFailed, false, "", "", out, meta)
		return nil, out
	case errors.As(err, &verr):
		out := deps.Errors.OTP(verr.Remaining, verr.LockedUntil)
		meta["reason"] = "mismatch"
		meta["remaining_attempts"] = strconv.Itoa(verr.Remaining)
		if verr.Locked() {
			deps.MetricInc(deps.Metrics.OTPAccountLocked)
			deps.EmitAudit.emit(ctx, audit.AccountLocked, true, "", "", nil, map[string]string{
				"request_id": requestID,
				"cause":      "otp_attempts",
			})
		}
		deps.EmitAudit.emit(ctx, audit.OTPFailed, false, "", "", out, meta)
		return nil, out
	case errors.Is(err, otp.ErrNotFound):
		out := deps.Errors.OTP(0, time.Time{})
		meta["reason"] = "unknown_request"
		deps.EmitAudit.emit(ctx, audit.OTPFailed, false, "", "", out, meta)
		return nil, out
	case errors.Is(err, otp.ErrExpired), errors.Is(err, otp.ErrNotPending):
		meta["reason"] = "expired"
		deps.EmitAudit.emit(ctx, audit.OTPFailed, false, "", "", deps.Errors.OTPExpired, meta)
		return nil, deps.Errors.OTPExpired
	default:
		return nil, deps.Errors.Store(err)
	}
}

func minutesUntil(now, until time.Time) int {
	left := until.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Minutes()))
}

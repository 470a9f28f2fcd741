package goIdentity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goIdentity/config"
	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/credentials"
	internalflows "github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/otp"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/notify"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/revocation"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/MrEthical07/goIdentity/store"
)

// Engine is the authentication facade: login with lockout, OTP step-up and
// password reset, session lifecycle, token refresh and revocation, and the
// permission cache with its invalidating mutations.
//
// An Engine is built once by [Builder] and is safe for concurrent use.
type Engine struct {
	config   Config
	store    store.Store
	provider config.Provider

	users       *credentials.Store
	policy      *credentials.Policy
	jwtManager  *jwt.Manager
	revocations *revocation.List
	sessions    *session.Manager
	sweeper     *session.Sweeper
	permissions *permission.Cache
	admin       *permission.Admin
	challenges  *otp.Challenge
	delivery    *notify.Dispatcher
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
	flows       internalflows.Service

	logger *slog.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string

	startOnce sync.Once
	closeOnce sync.Once
}

// Start begins the periodic expiry sweep. Calling it more than once has no
// further effect.
func (e *Engine) Start() {
	if e == nil || e.sweeper == nil {
		return
	}
	e.startOnce.Do(e.sweeper.Start)
}

// Close stops the sweep and drains the notification and audit queues.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.sweeper != nil {
			e.sweeper.Stop()
		}
		e.delivery.Close()
		e.audit.Close()
	})
}

// SweepNow runs one expiry sweep synchronously.
func (e *Engine) SweepNow() {
	if e == nil || e.sweeper == nil {
		return
	}
	e.sweeper.RunOnce()
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return emptySnapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) flowMetricInc(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) flowErrors() internalflows.Errors {
	return internalflows.Errors{
		EngineNotReady:         ErrEngineNotReady,
		InvalidCredentials:     ErrInvalidCredentials,
		TokenInvalid:           ErrTokenInvalid,
		SessionNotFound:        ErrSessionNotFound,
		SessionInactive:        ErrSessionInactive,
		OTPExpired:             ErrOTPExpired,
		OTPMaxAttemptsExceeded: ErrOTPMaxAttemptsExceeded,
		Credentials: func(remaining int) error {
			return &CredentialsError{RemainingAttempts: remaining}
		},
		Locked: func(until time.Time, minutes int) error {
			return &LockedError{Until: until, RemainingMinutes: minutes}
		},
		OTP: func(remaining int, lockedUntil time.Time) error {
			return &OTPError{RemainingAttempts: remaining, LockedUntil: lockedUntil}
		},
		Validation: func(problems ...string) error {
			return &ValidationError{Problems: problems}
		},
		Store: storeErr,
	}
}

func (e *Engine) flowDeps() internalflows.Deps {
	return internalflows.Deps{
		Login:    e.loginFlowDeps(),
		Refresh:  e.refreshFlowDeps(),
		Logout:   e.logoutFlowDeps(),
		OTP:      e.otpFlowDeps(),
		Password: e.passwordFlowDeps(),
	}
}

// resolvePermissions feeds the grant set into access tokens.
func (e *Engine) resolvePermissions(ctx context.Context, userID string) ([]string, []string, error) {
	set, err := e.permissions.Get(ctx, userID)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	return set.Roles, set.Permissions, nil
}

// equalizeTiming spends one password verification on unknown identifiers so
// they cost the same as a wrong password.
func (e *Engine) equalizeTiming(raw string) {
	e.dummyOnce.Do(func() {
		h, err := e.policy.Hash("goIdentity-timing-equalizer")
		if err != nil {
			e.logger.Warn("goIdentity: timing equalizer hash failed", "error", err)
			return
		}
		e.dummyHash = h
	})
	if e.dummyHash != "" {
		e.policy.Verify(raw, e.dummyHash)
	}
}

// recordDelivery is the notify.StatusFunc of the OTP dispatcher.
func (e *Engine) recordDelivery(ctx context.Context, requestID string, status store.DeliveryStatus, deliveryID string) error {
	if status == store.DeliveryFailed {
		e.metricInc(MetricOTPDeliveryFailed)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditOTPDeliveryFailed,
			RequestID: requestID,
		}, nil)
	}
	return e.challenges.MarkDelivery(ctx, requestID, status, deliveryID)
}

// onSwept runs on the sweeper goroutine after each pass.
func (e *Engine) onSwept(swept []*store.Session) {
	if len(swept) == 0 {
		return
	}
	for range swept {
		e.metricInc(MetricSessionSwept)
		e.metricInc(MetricSessionTerminated)
	}
	e.emitSwept(len(swept))
}

// auditPermissionEvent subscribes to the permission bus after the cache.
func (e *Engine) auditPermissionEvent(ctx context.Context, ev permission.Event) error {
	e.metricInc(MetricPermissionInvalidation)
	meta := map[string]string{
		"kind": string(ev.Kind),
		"op":   ev.Op,
	}
	if ev.RoleID != "" {
		meta["role_id"] = ev.RoleID
	}
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditPermissionsChanged,
		UserID:    ev.UserID,
		Success:   true,
		Metadata:  meta,
	}, nil)
	return nil
}

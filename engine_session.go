package goIdentity

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/internal/credentials"
	internalflows "github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/session"
)

// Refresh exchanges a refresh token for a new access token bound to the same
// session. The session must still be active and the account unlocked. The
// refresh token is not rotated. Malformed, expired, tampered and revoked
// tokens all fail with ErrTokenInvalid.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res := e.flows.Refresh(ctx, refreshToken)
	if res.Failure != internalflows.RefreshFailureNone {
		return nil, res.Err
	}
	return &RefreshResult{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.ExpiresAt,
		SessionID:   res.SessionID,
	}, nil
}

// Logout ends sessionID with reason LOGOUT and revokes its tokens. Logging
// out an already ended session succeeds; an unknown id fails with
// ErrSessionNotFound.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.Terminate(ctx, sessionID, ReasonLogout)
}

// TerminateSession ends sessionID with reason, ADMIN when empty. It behaves
// like Logout otherwise.
func (e *Engine) TerminateSession(ctx context.Context, sessionID, reason string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if reason == "" {
		reason = ReasonAdmin
	}
	return e.flows.Terminate(ctx, sessionID, reason)
}

// TerminateAllSessions ends every active session of userID, revokes their
// tokens and clears the user's current-session pointer unconditionally. It
// returns how many sessions it ended.
func (e *Engine) TerminateAllSessions(ctx context.Context, userID, reason string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if reason == "" {
		reason = ReasonAdmin
	}
	return e.flows.TerminateAll(ctx, userID, reason)
}

// ValidateSession reports whether sessionID is active and inside its
// inactivity window, sliding the window forward when it is. An expired
// session is terminated with reason TIMEOUT before false is returned.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	start := e.now()
	ok, err := e.sessions.Validate(ctx, sessionID)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
	}
	if err != nil {
		return false, storeErr(err)
	}
	if !ok {
		e.metricInc(MetricSessionValidateFailure)
	}
	return ok, nil
}

// IsTokenRevoked is the denylist membership check. It does not look at the
// token's signature or claims.
func (e *Engine) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	if e == nil || e.revocations == nil {
		return false, ErrEngineNotReady
	}
	revoked, err := e.revocations.IsRevoked(ctx, token)
	if err != nil {
		return false, cacheErr(err)
	}
	return revoked, nil
}

// RevokeToken denylists token for the rest of its natural lifetime, or for
// the fallback TTL when its expiry cannot be read.
func (e *Engine) RevokeToken(ctx context.Context, token string) error {
	if e == nil || e.revocations == nil {
		return ErrEngineNotReady
	}
	if err := e.revocations.Revoke(ctx, token); err != nil {
		return cacheErr(err)
	}
	e.metricInc(MetricTokenRevoked)
	return nil
}

// ValidateAccessToken is the protected-request check: revocation first, then
// signature and claims, then the bound session. Token problems fail with
// ErrTokenInvalid; an ended or expired session fails with ErrSessionInactive.
func (e *Engine) ValidateAccessToken(ctx context.Context, token string) (*AccessClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	revoked, err := e.IsTokenRevoked(ctx, token)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenInvalid
	}
	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	ok, err := e.ValidateSession(ctx, claims.SID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionInactive
	}
	return claims, nil
}

// ListActiveSessions returns the sessions of userID still flagged active.
// Sessions past their window but not yet swept are included.
func (e *Engine) ListActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	out, err := e.sessions.Registry().ActiveForUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (e *Engine) refreshFlowDeps() internalflows.RefreshDeps {
	return internalflows.RefreshDeps{
		IsRevoked:    e.IsTokenRevoked,
		ParseRefresh: e.jwtManager.ParseRefresh,
		FindSession:  e.sessions.Registry().ByRefreshToken,
		IsSessionNotFound: func(err error) bool {
			return errors.Is(err, session.ErrNotFound)
		},
		ValidateSession:      e.sessions.Validate,
		FindUser:             e.users.ByID,
		IsLocked:             e.policy.IsLocked,
		RemainingLockMinutes: e.policy.RemainingLockMinutes,
		ResolvePermissions:   e.resolvePermissions,
		IssueAccess:          e.jwtManager.CreateAccess,
		UpdateAccessToken:    e.sessions.UpdateAccessToken,
		MetricInc:            e.flowMetricInc,
		EmitAudit:            e.emitAudit,
		Metrics: internalflows.RefreshMetrics{
			RefreshSuccess: int(MetricRefreshSuccess),
			RefreshFailure: int(MetricRefreshFailure),
		},
		Errors: e.flowErrors(),
	}
}

func (e *Engine) logoutFlowDeps() internalflows.LogoutDeps {
	return internalflows.LogoutDeps{
		Terminate:    e.sessions.Terminate,
		TerminateAll: e.sessions.TerminateAll,
		IsSessionNotFound: func(err error) bool {
			return errors.Is(err, session.ErrNotFound) || errors.Is(err, credentials.ErrUserNotFound)
		},
		RevokeToken: e.RevokeToken,
		Warn:        e.logger.Warn,
		MetricInc:   e.flowMetricInc,
		EmitAudit:   e.emitAudit,
		Metrics: internalflows.LogoutMetrics{
			Logout:            int(MetricLogout),
			LogoutAll:         int(MetricLogoutAll),
			SessionTerminated: int(MetricSessionTerminated),
		},
		Errors: e.flowErrors(),
	}
}

package goIdentity

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/credentials"
	internalflows "github.com/MrEthical07/goIdentity/internal/flows"
)

// Login verifies credentials and opens a session.
//
// A wrong password and an unknown identifier both fail with an error
// matching ErrInvalidCredentials; only the former carries a remaining
// attempts figure in its *CredentialsError. Reaching the configured maximum
// locks the account and returns *LockedError. With single-session
// enforcement on, every other active session of the user ends with reason
// DUPLICATE_LOGIN before the new one becomes visible.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if req.IPAddress == "" {
		req.IPAddress = clientIPFromContext(ctx)
	}
	if req.UserAgent == "" {
		req.UserAgent = userAgentFromContext(ctx)
	}

	res, err := e.flows.Login(ctx, internalflows.LoginRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		DeviceType: req.DeviceType,
	})
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		UserID:           res.UserID,
		SessionID:        res.SessionID,
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		ExpiresAt:        res.ExpiresAt,
		SessionExpiresAt: res.SessionExpiresAt,
		FirstLogin:       res.FirstLogin,
		EvictedSessions:  res.Evicted,
	}, nil
}

func (e *Engine) loginFlowDeps() internalflows.LoginDeps {
	deps := internalflows.LoginDeps{
		Now:      e.now,
		FindUser: e.users.ByIdentifier,
		IsUserNotFound: func(err error) bool {
			return errors.Is(err, credentials.ErrUserNotFound)
		},
		IsLocked:             e.policy.IsLocked,
		RemainingLockMinutes: e.policy.RemainingLockMinutes,
		VerifyPassword:       e.policy.Verify,
		EqualizeTiming:       e.equalizeTiming,
		HandleFailedLogin:    e.policy.HandleFailedLogin,
		ResetFailedAttempts:  e.policy.ResetFailedAttempts,
		ResolvePermissions:   e.resolvePermissions,
		NewSessionID:         internal.NewSessionID,
		IssueAccess:          e.jwtManager.CreateAccess,
		IssueRefresh:         e.jwtManager.CreateRefresh,
		CreateSession:        e.sessions.Create,
		MetricInc:            e.flowMetricInc,
		EmitAudit:            e.emitAudit,
		Metrics: internalflows.LoginMetrics{
			LoginSuccess:   int(MetricLoginSuccess),
			LoginFailure:   int(MetricLoginFailure),
			AccountLocked:  int(MetricAccountLocked),
			SessionCreated: int(MetricSessionCreated),
			SessionEvicted: int(MetricSessionEvicted),
		},
		Errors: e.flowErrors(),
	}
	if e.config.Password.UpgradeOnLogin {
		deps.UpgradeHash = e.policy.UpgradeHash
	}
	return deps
}

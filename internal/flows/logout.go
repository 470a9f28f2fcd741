package flows

import (
	"context"
	"strconv"

	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/store"
)

// LogoutMetrics carries metric IDs needed by termination flows.
type LogoutMetrics struct {
	Logout            int
	LogoutAll         int
	SessionTerminated int
}

// LogoutDeps captures logout and termination dependencies.
type LogoutDeps struct {
	Terminate         func(ctx context.Context, sessionID, reason string) (*store.Session, bool, error)
	TerminateAll      func(ctx context.Context, userID, reason string) ([]*store.Session, error)
	IsSessionNotFound func(error) bool
	RevokeToken       func(ctx context.Context, token string) error
	Warn              func(msg string, args ...any)

	MetricInc func(int)
	EmitAudit Emitter

	Metrics LogoutMetrics
	Errors  Errors
}

// RunTerminate deactivates one session and revokes its tokens. Terminating
// an already inactive session succeeds without side effects.
func RunTerminate(ctx context.Context, sessionID, reason string, deps LogoutDeps) error {
	if deps.MetricInc == nil {
		deps.MetricInc = noopInc
	}
	if sessionID == "" {
		return deps.Errors.SessionNotFound
	}
	sess, changed, err := deps.Terminate(ctx, sessionID, reason)
	if err != nil {
		if deps.IsSessionNotFound(err) {
			return deps.Errors.SessionNotFound
		}
		return deps.Errors.Store(err)
	}
	if !changed {
		return nil
	}
	revokeSessionTokens(ctx, sess, deps)

	event := audit.SessionTerminated
	if reason == store.ReasonLogout {
		event = audit.Logout
		deps.MetricInc(deps.Metrics.Logout)
	}
	deps.MetricInc(deps.Metrics.SessionTerminated)
	deps.EmitAudit.emit(ctx, event, true, sess.UserID, sess.ID, nil, map[string]string{
		"reason": reason,
	})
	return nil
}

// RunTerminateAll deactivates every active session of userID.
func RunTerminateAll(ctx context.Context, userID, reason string, deps LogoutDeps) (int, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopInc
	}
	done, err := deps.TerminateAll(ctx, userID, reason)
	for _, sess := range done {
		revokeSessionTokens(ctx, sess, deps)
		deps.MetricInc(deps.Metrics.SessionTerminated)
	}
	if err != nil {
		return len(done), deps.Errors.Store(err)
	}
	deps.MetricInc(deps.Metrics.LogoutAll)
	deps.EmitAudit.emit(ctx, audit.SessionsTerminatedAll, true, userID, "", nil, map[string]string{
		"reason":     reason,
		"terminated": strconv.Itoa(len(done)),
	})
	return len(done), nil
}

func revokeSessionTokens(ctx context.Context, sess *store.Session, deps LogoutDeps) {
	if deps.RevokeToken == nil || sess == nil {
		return
	}
	for _, tok := range []string{sess.AccessToken, sess.RefreshToken} {
		if tok == "" {
			continue
		}
		if err := deps.RevokeToken(ctx, tok); err != nil && deps.Warn != nil {
			deps.Warn("goIdentity: token revocation failed", "session_id", sess.ID, "error", err)
		}
	}
}

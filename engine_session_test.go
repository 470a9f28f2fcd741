package goIdentity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRefreshIssuesNewAccessTokenWithoutRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.login(t, "alice", alicePassword)

	env.clock.Advance(time.Minute)
	out, err := env.engine.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if out.SessionID != res.SessionID {
		t.Fatalf("expected session %s, got %s", res.SessionID, out.SessionID)
	}
	if out.AccessToken == res.AccessToken {
		t.Fatal("expected a new access token")
	}

	// The refresh token stays usable.
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	sess, err := env.store.FindSessionByID(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if sess.RefreshToken != res.RefreshToken {
		t.Fatal("refresh token must not change")
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)
	res := env.login(t, "alice", alicePassword)

	for _, tok := range []string{"", "not-a-token", res.AccessToken} {
		if _, err := env.engine.Refresh(context.Background(), tok); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("token %q: expected ErrTokenInvalid, got %v", tok, err)
		}
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshFailure]; got != 3 {
		t.Fatalf("expected 3 refresh failures, got %d", got)
	}
}

func TestRefreshLockedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.login(t, "alice", alicePassword)

	env.tunables.Set("SECURITY_MAX_FAILED_LOGIN_ATTEMPTS", "1")
	_, _ = env.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: "wrong"})

	_, err := env.engine.Refresh(ctx, res.RefreshToken)
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected *LockedError, got %v", err)
	}
}

func TestLogoutRevokesTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.login(t, "alice", alicePassword)

	if err := env.engine.Logout(ctx, res.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid after logout, got %v", err)
	}
	if _, err := env.engine.ValidateAccessToken(ctx, res.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected revoked access token, got %v", err)
	}
	revoked, err := env.engine.IsTokenRevoked(ctx, res.RefreshToken)
	if err != nil || !revoked {
		t.Fatalf("expected refresh token revoked, got %v (err=%v)", revoked, err)
	}

	sess, err := env.store.FindSessionByID(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if sess.IsActive || sess.TerminationReason != ReasonLogout || sess.TerminatedAt == nil {
		t.Fatalf("unexpected session state: %+v", sess)
	}
	if u := env.user(t, "u-alice"); u.CurrentSessionID != "" {
		t.Fatalf("expected pointer cleared, got %q", u.CurrentSessionID)
	}

	// Idempotent.
	if err := env.engine.Logout(ctx, res.SessionID); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLogout]; got != 1 {
		t.Fatalf("expected 1 logout, got %d", got)
	}
}

func TestLogoutUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Logout(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := env.engine.Logout(context.Background(), ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestTerminateSessionDefaultsToAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.login(t, "alice", alicePassword)

	if err := env.engine.TerminateSession(ctx, res.SessionID, ""); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	sess, err := env.store.FindSessionByID(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if sess.TerminationReason != ReasonAdmin {
		t.Fatalf("expected ADMIN, got %q", sess.TerminationReason)
	}
}

func TestTerminateAllSessions(t *testing.T) {
	env := newTestEnv(t)
	env.tunables.Set("SESSION_SINGLE_SESSION_ENFORCED", "false")
	ctx := context.Background()

	a := env.login(t, "alice", alicePassword)
	b := env.login(t, "alice", alicePassword)

	n, err := env.engine.TerminateAllSessions(ctx, "u-alice", ReasonAdmin)
	if err != nil {
		t.Fatalf("terminate all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 terminated, got %d", n)
	}
	for _, res := range []*LoginResult{a, b} {
		if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected revoked refresh token, got %v", err)
		}
	}
	if u := env.user(t, "u-alice"); u.CurrentSessionID != "" {
		t.Fatalf("expected pointer cleared, got %q", u.CurrentSessionID)
	}

	n, err = env.engine.TerminateAllSessions(ctx, "u-alice", ReasonAdmin)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing left to end, got %d (err=%v)", n, err)
	}
}

func TestValidateSessionSlidesWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.login(t, "alice", alicePassword)

	for i := 0; i < 3; i++ {
		env.clock.Advance(10 * time.Minute)
		ok, err := env.engine.ValidateSession(ctx, res.SessionID)
		if err != nil || !ok {
			t.Fatalf("step %d: expected valid session, got ok=%v err=%v", i, ok, err)
		}
	}

	sess, err := env.store.FindSessionByID(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if want := env.clock.Now().Add(15 * time.Minute); !sess.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, sess.ExpiresAt)
	}
}

func TestValidateSessionTimesOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.login(t, "alice", alicePassword)

	env.clock.Advance(16 * time.Minute)
	ok, err := env.engine.ValidateSession(ctx, res.SessionID)
	if err != nil || ok {
		t.Fatalf("expected expired session, got ok=%v err=%v", ok, err)
	}
	sess, err := env.store.FindSessionByID(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if sess.IsActive || sess.TerminationReason != ReasonTimeout {
		t.Fatalf("expected TIMEOUT termination, got %+v", sess)
	}

	if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}
	if ok, _ := env.engine.ValidateSession(ctx, "missing"); ok {
		t.Fatal("unknown session must not validate")
	}
}

func TestValidateAccessToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.login(t, "alice", alicePassword)

	if _, err := env.engine.ValidateAccessToken(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := env.engine.ValidateAccessToken(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token must not pass as access token, got %v", err)
	}

	if err := env.engine.RevokeToken(ctx, res.AccessToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.engine.ValidateAccessToken(ctx, res.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}

	other := env.login(t, "alice", alicePassword)
	env.clock.Advance(5 * time.Minute)
	claims, err := env.engine.ValidateAccessToken(ctx, other.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.SID != other.SessionID {
		t.Fatalf("expected sid %s, got %s", other.SessionID, claims.SID)
	}
}

func TestValidateAccessTokenEndedSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.login(t, "alice", alicePassword)
	env.login(t, "alice", alicePassword)

	// Eviction leaves the token unrevoked; the bound session decides.
	if _, err := env.engine.ValidateAccessToken(ctx, first.AccessToken); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected the evicted session's token to fail, got %v", err)
	}
}

func TestSweepNowEndsExpiredSessions(t *testing.T) {
	env := newTestEnv(t)
	env.tunables.Set("SESSION_SINGLE_SESSION_ENFORCED", "false")
	ctx := context.Background()

	stale := env.login(t, "alice", alicePassword)
	env.clock.Advance(10 * time.Minute)
	fresh := env.login(t, "alice", alicePassword)
	env.clock.Advance(6 * time.Minute)

	env.engine.SweepNow()

	sess, err := env.store.FindSessionByID(ctx, stale.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if sess.IsActive || sess.TerminationReason != ReasonTimeout {
		t.Fatalf("expected stale session swept, got %+v", sess)
	}
	if sess, _ := env.store.FindSessionByID(ctx, fresh.SessionID); !sess.IsActive {
		t.Fatal("fresh session must survive the sweep")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricSessionSwept]; got != 1 {
		t.Fatalf("expected 1 swept session, got %d", got)
	}
}

func TestListActiveSessionsUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.engine.ListActiveSessions(context.Background(), "nobody")
	if err != nil || len(out) != 0 {
		t.Fatalf("expected no sessions, got %d (err=%v)", len(out), err)
	}
}

package goIdentity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/config"
	"github.com/MrEthical07/goIdentity/store"
)

func TestLoginSuccessIssuesTokensAndSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.login(t, "alice", alicePassword)
	if res.UserID != "u-alice" || res.SessionID == "" || res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("unexpected login result: %+v", res)
	}
	if !res.FirstLogin {
		t.Fatal("expected FirstLogin for a fresh account")
	}
	if want := env.clock.Now().Add(15 * time.Minute); !res.SessionExpiresAt.Equal(want) {
		t.Fatalf("expected session expiry %v, got %v", want, res.SessionExpiresAt)
	}

	claims, err := env.engine.ValidateAccessToken(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("validate access token: %v", err)
	}
	if claims.Subject != "u-alice" || claims.SID != res.SessionID {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if u := env.user(t, "u-alice"); u.CurrentSessionID != res.SessionID {
		t.Fatalf("expected current session %s, got %s", res.SessionID, u.CurrentSessionID)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("expected 1 login success, got %d", got)
	}
}

func TestLoginByEmail(t *testing.T) {
	env := newTestEnv(t)
	res := env.login(t, "alice@example.com", alicePassword)
	if res.UserID != "u-alice" {
		t.Fatalf("expected u-alice, got %s", res.UserID)
	}
}

func TestLoginWrongPasswordCountsDown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for want := 4; want >= 1; want-- {
		_, err := env.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: "wrong"})
		var cred *CredentialsError
		if !errors.As(err, &cred) {
			t.Fatalf("expected *CredentialsError, got %v", err)
		}
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
		if cred.RemainingAttempts != want {
			t.Fatalf("expected %d remaining, got %d", want, cred.RemainingAttempts)
		}
	}

	_, err := env.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: "wrong"})
	var locked *LockedError
	if !errors.As(err, &locked) || !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected *LockedError, got %v", err)
	}
	if locked.RemainingMinutes != 30 {
		t.Fatalf("expected 30 remaining minutes, got %d", locked.RemainingMinutes)
	}
	if u := env.user(t, "u-alice"); u.Status != store.UserLocked || u.AccountLockedUntil == nil {
		t.Fatalf("expected persisted lock, got %+v", u)
	}

	// The right password does not get past an active lock.
	if _, err := env.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: alicePassword}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestLoginLockExpiresLazily(t *testing.T) {
	env := newTestEnv(t)
	env.tunables.Set(config.KeyMaxFailedLoginAttempts, "2")
	env.tunables.Set(config.KeyLockoutDurationMinutes, "10")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = env.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: "wrong"})
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: alicePassword}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lock after 2 failures, got %v", err)
	}

	env.clock.Advance(11 * time.Minute)
	env.login(t, "alice", alicePassword)

	u := env.user(t, "u-alice")
	if u.Status != store.UserActive || u.FailedLoginAttempts != 0 || u.AccountLockedUntil != nil {
		t.Fatalf("expected healed account, got %+v", u)
	}
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _ = env.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: "wrong"})
	_, _ = env.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: "wrong"})
	env.login(t, "alice", alicePassword)

	if u := env.user(t, "u-alice"); u.FailedLoginAttempts != 0 {
		t.Fatalf("expected counter reset, got %d", u.FailedLoginAttempts)
	}
}

func TestLoginUnknownUserLooksLikeWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Login(context.Background(), LoginRequest{Identifier: "nobody", Password: "whatever"})
	var cred *CredentialsError
	if !errors.As(err, &cred) || !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected *CredentialsError, got %v", err)
	}
	if cred.RemainingAttempts != -1 {
		t.Fatalf("expected no remaining figure, got %d", cred.RemainingAttempts)
	}
}

func TestLoginEmptyInput(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Login(context.Background(), LoginRequest{Identifier: " ", Password: ""}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if u := env.user(t, "u-alice"); u.FailedLoginAttempts != 0 {
		t.Fatalf("empty input must not count, got %d", u.FailedLoginAttempts)
	}
}

func TestLoginEvictsPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.login(t, "alice", alicePassword)
	second := env.login(t, "alice", alicePassword)

	if len(second.EvictedSessions) != 1 || second.EvictedSessions[0] != first.SessionID {
		t.Fatalf("expected %s evicted, got %v", first.SessionID, second.EvictedSessions)
	}
	ok, err := env.engine.ValidateSession(ctx, first.SessionID)
	if err != nil || ok {
		t.Fatalf("expected first session inactive, got ok=%v err=%v", ok, err)
	}
	sess, err := env.store.FindSessionByID(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if sess.TerminationReason != ReasonDuplicateLogin {
		t.Fatalf("expected DUPLICATE_LOGIN, got %q", sess.TerminationReason)
	}

	active, err := env.engine.ListActiveSessions(ctx, "u-alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != second.SessionID {
		t.Fatalf("expected only the second session active, got %d", len(active))
	}
}

func TestLoginWithoutSingleSessionKeepsOthers(t *testing.T) {
	env := newTestEnv(t)
	env.tunables.Set(config.KeySingleSessionEnforced, "false")

	env.login(t, "alice", alicePassword)
	second := env.login(t, "alice", alicePassword)
	if len(second.EvictedSessions) != 0 {
		t.Fatalf("expected no eviction, got %v", second.EvictedSessions)
	}
	active, err := env.engine.ListActiveSessions(context.Background(), "u-alice")
	if err != nil || len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d (err=%v)", len(active), err)
	}
}

func TestLoginCarriesRequestMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithUserAgent(WithClientIP(context.Background(), "203.0.113.7"), "test-agent")

	res, err := env.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: alicePassword, DeviceType: "web"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	sess, err := env.store.FindSessionByID(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if sess.IPAddress != "203.0.113.7" || sess.UserAgent != "test-agent" || sess.DeviceType != "web" {
		t.Fatalf("unexpected session metadata: %+v", sess)
	}

	var found bool
	for _, ev := range env.drainAudit() {
		if ev.EventType == AuditLoginSuccess {
			found = true
			if ev.IP != "203.0.113.7" || ev.UserID != "u-alice" {
				t.Fatalf("unexpected audit event: %+v", ev)
			}
		}
	}
	if !found {
		t.Fatal("expected a login success audit event")
	}
}

func TestLoginFailureAuditCarriesCodeNotText(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.engine.Login(context.Background(), LoginRequest{Identifier: "alice", Password: "wrong"})

	for _, ev := range env.drainAudit() {
		if ev.EventType == AuditLoginFailure {
			if ev.Error != string(auditErrInvalidCredentials) {
				t.Fatalf("expected error code %q, got %q", auditErrInvalidCredentials, ev.Error)
			}
			return
		}
	}
	t.Fatal("expected a login failure audit event")
}

func TestAccountStatusAndUnlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	until, err := env.engine.LockAccount(ctx, "u-alice")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !until.Equal(env.clock.Now().Add(30 * time.Minute)) {
		t.Fatalf("unexpected lock expiry %v", until)
	}
	st, err := env.engine.AccountStatus(ctx, "u-alice")
	if err != nil || !st.Locked() {
		t.Fatalf("expected locked status, got %+v (err=%v)", st, err)
	}

	if err := env.engine.UnlockAccount(ctx, "u-alice"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	st, err = env.engine.AccountStatus(ctx, "u-alice")
	if err != nil || st.Locked() || st.FailedAttempts != 0 {
		t.Fatalf("expected unlocked status, got %+v (err=%v)", st, err)
	}
	env.login(t, "alice", alicePassword)

	if err := env.engine.UnlockAccount(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

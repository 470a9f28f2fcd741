package flows

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/otp"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/notify"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/MrEthical07/goIdentity/store"
)

var (
	errNotReady  = errors.New("not ready")
	errBadCreds  = errors.New("bad credentials")
	errBadToken  = errors.New("bad token")
	errNoSession = errors.New("no session")
	errInactive  = errors.New("inactive")
	errExpired   = errors.New("expired")
	errExhausted = errors.New("exhausted")
	errLocked    = errors.New("locked")
	errStore     = errors.New("store")
	errUnknown   = errors.New("unknown user")
)

type credErr struct{ remaining int }

func (e credErr) Error() string { return fmt.Sprintf("credentials (%d)", e.remaining) }
func (e credErr) Unwrap() error { return errBadCreds }

type lockErr struct{ minutes int }

func (e lockErr) Error() string { return fmt.Sprintf("locked (%d)", e.minutes) }
func (e lockErr) Unwrap() error { return errLocked }

type otpErr struct {
	remaining int
	until     time.Time
}

func (e otpErr) Error() string { return fmt.Sprintf("otp (%d)", e.remaining) }

func testErrors() Errors {
	return Errors{
		EngineNotReady:         errNotReady,
		InvalidCredentials:     errBadCreds,
		TokenInvalid:           errBadToken,
		SessionNotFound:        errNoSession,
		SessionInactive:        errInactive,
		OTPExpired:             errExpired,
		OTPMaxAttemptsExceeded: errExhausted,
		Credentials:            func(n int) error { return credErr{n} },
		Locked:                 func(_ time.Time, m int) error { return lockErr{m} },
		OTP:                    func(n int, until time.Time) error { return otpErr{n, until} },
		Validation:             func(p ...string) error { return fmt.Errorf("validation: %v", p) },
		Store:                  func(err error) error { return fmt.Errorf("%w: %v", errStore, err) },
	}
}

type recorder struct {
	metrics []int
	events  []audit.Event
}

func (r *recorder) inc(id int) { r.metrics = append(r.metrics, id) }

func (r *recorder) emit(_ context.Context, ev audit.Event, _ error) {
	r.events = append(r.events, ev)
}

func (r *recorder) eventTypes() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *recorder) count(id int) int {
	n := 0
	for _, m := range r.metrics {
		if m == id {
			n++
		}
	}
	return n
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func loginDeps(t *testing.T, user *store.User, rec *recorder) LoginDeps {
	t.Helper()
	return LoginDeps{
		Now: func() time.Time { return testNow },
		FindUser: func(_ context.Context, identifier string) (*store.User, error) {
			if user == nil || (identifier != user.Username && identifier != user.Email) {
				return nil, errUnknown
			}
			return user, nil
		},
		IsUserNotFound:       func(err error) bool { return errors.Is(err, errUnknown) },
		IsLocked:             func(context.Context, *store.User) (bool, error) { return user.Status == store.UserLocked, nil },
		RemainingLockMinutes: func(*store.User) int { return 30 },
		VerifyPassword:       func(raw, hash string) bool { return raw == hash },
		HandleFailedLogin: func(_ context.Context, u *store.User) (int, error) {
			u.FailedLoginAttempts++
			left := 3 - u.FailedLoginAttempts
			if left <= 0 {
				u.Status = store.UserLocked
				return 0, nil
			}
			return left, nil
		},
		ResetFailedAttempts: func(_ context.Context, u *store.User) error {
			u.FailedLoginAttempts = 0
			return nil
		},
		ResolvePermissions: func(context.Context, string) ([]string, []string, error) {
			return []string{"VIEWER"}, []string{"reports.read"}, nil
		},
		NewSessionID: func() (string, error) { return "s-new", nil },
		IssueAccess: func(in jwt.AccessInput) (string, time.Time, error) {
			if in.SessionID != "s-new" || len(in.Permissions) != 1 {
				t.Errorf("unexpected access input: %+v", in)
			}
			return "access", testNow.Add(15 * time.Minute), nil
		},
		IssueRefresh: func(string, string) (string, time.Time, error) {
			return "refresh", testNow.Add(24 * time.Hour), nil
		},
		CreateSession: func(_ context.Context, in session.NewSession) (*session.CreateResult, error) {
			return &session.CreateResult{
				Session: &store.Session{ID: in.ID, UserID: in.UserID, ExpiresAt: testNow.Add(15 * time.Minute)},
				Evicted: []*store.Session{{ID: "s-old"}},
			}, nil
		},
		MetricInc: rec.inc,
		EmitAudit: rec.emit,
		Metrics:   LoginMetrics{LoginSuccess: 1, LoginFailure: 2, AccountLocked: 3, SessionCreated: 4, SessionEvicted: 5},
		Errors:    testErrors(),
	}
}

func TestRunLoginSuccess(t *testing.T) {
	user := &store.User{ID: "u1", Username: "alice", PasswordHash: "pw", FailedLoginAttempts: 2, FirstLogin: true}
	rec := &recorder{}

	res, err := RunLogin(context.Background(), LoginRequest{Identifier: " alice ", Password: "pw"}, loginDeps(t, user, rec))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.SessionID != "s-new" || res.AccessToken != "access" || res.RefreshToken != "refresh" || !res.FirstLogin {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Evicted) != 1 || res.Evicted[0] != "s-old" {
		t.Fatalf("expected s-old evicted, got %v", res.Evicted)
	}
	if user.FailedLoginAttempts != 0 {
		t.Fatalf("expected counter reset, got %d", user.FailedLoginAttempts)
	}
	if rec.count(1) != 1 || rec.count(4) != 1 || rec.count(5) != 1 {
		t.Fatalf("unexpected metrics %v", rec.metrics)
	}
}

func TestRunLoginUnknownUserEqualizesTiming(t *testing.T) {
	rec := &recorder{}
	deps := loginDeps(t, nil, rec)
	var equalized bool
	deps.EqualizeTiming = func(string) { equalized = true }

	_, err := RunLogin(context.Background(), LoginRequest{Identifier: "ghost", Password: "pw"}, deps)
	var ce credErr
	if !errors.As(err, &ce) || ce.remaining != -1 {
		t.Fatalf("expected credentials error without a figure, got %v", err)
	}
	if !equalized {
		t.Fatal("expected timing equalization for an unknown user")
	}
}

func TestRunLoginLocksOnLastAttempt(t *testing.T) {
	user := &store.User{ID: "u1", Username: "alice", PasswordHash: "pw"}
	rec := &recorder{}
	deps := loginDeps(t, user, rec)
	ctx := context.Background()

	for want := 2; want >= 1; want-- {
		_, err := RunLogin(ctx, LoginRequest{Identifier: "alice", Password: "nope"}, deps)
		var ce credErr
		if !errors.As(err, &ce) || ce.remaining != want {
			t.Fatalf("expected %d remaining, got %v", want, err)
		}
	}
	_, err := RunLogin(ctx, LoginRequest{Identifier: "alice", Password: "nope"}, deps)
	if !errors.Is(err, errLocked) {
		t.Fatalf("expected lock, got %v", err)
	}
	if rec.count(3) != 1 {
		t.Fatalf("expected one lock metric, got %v", rec.metrics)
	}

	_, err = RunLogin(ctx, LoginRequest{Identifier: "alice", Password: "pw"}, deps)
	if !errors.Is(err, errLocked) {
		t.Fatalf("locked account must refuse the right password, got %v", err)
	}
}

func TestRunLoginNotReady(t *testing.T) {
	if _, err := RunLogin(context.Background(), LoginRequest{}, LoginDeps{Errors: testErrors()}); !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestRunTerminateIdempotent(t *testing.T) {
	rec := &recorder{}
	var revoked []string
	active := true
	deps := LogoutDeps{
		Terminate: func(_ context.Context, sessionID, _ string) (*store.Session, bool, error) {
			if sessionID != "s1" {
				return nil, false, errUnknown
			}
			changed := active
			active = false
			return &store.Session{ID: "s1", UserID: "u1", AccessToken: "a", RefreshToken: "r"}, changed, nil
		},
		IsSessionNotFound: func(err error) bool { return errors.Is(err, errUnknown) },
		RevokeToken: func(_ context.Context, tok string) error {
			revoked = append(revoked, tok)
			return nil
		},
		MetricInc: rec.inc,
		EmitAudit: rec.emit,
		Metrics:   LogoutMetrics{Logout: 1, LogoutAll: 2, SessionTerminated: 3},
		Errors:    testErrors(),
	}
	ctx := context.Background()

	if err := RunTerminate(ctx, "s1", store.ReasonLogout, deps); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := RunTerminate(ctx, "s1", store.ReasonLogout, deps); err != nil {
		t.Fatalf("second terminate: %v", err)
	}
	if len(revoked) != 2 {
		t.Fatalf("expected tokens revoked once, got %v", revoked)
	}
	if got := rec.eventTypes(); len(got) != 1 || got[0] != audit.Logout {
		t.Fatalf("expected a single logout event, got %v", got)
	}
	if err := RunTerminate(ctx, "missing", store.ReasonAdmin, deps); !errors.Is(err, errNoSession) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestRunTerminateAllWarnsOnRevocationFailure(t *testing.T) {
	rec := &recorder{}
	var warnings int
	deps := LogoutDeps{
		TerminateAll: func(context.Context, string, string) ([]*store.Session, error) {
			return []*store.Session{
				{ID: "s1", AccessToken: "a1", RefreshToken: "r1"},
				{ID: "s2", AccessToken: "a2", RefreshToken: "r2"},
			}, nil
		},
		RevokeToken: func(context.Context, string) error { return errors.New("cache down") },
		Warn:        func(string, ...any) { warnings++ },
		MetricInc:   rec.inc,
		EmitAudit:   rec.emit,
		Metrics:     LogoutMetrics{Logout: 1, LogoutAll: 2, SessionTerminated: 3},
		Errors:      testErrors(),
	}

	n, err := RunTerminateAll(context.Background(), "u1", store.ReasonPasswordReset, deps)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 terminated, got %d (err=%v)", n, err)
	}
	if warnings != 4 {
		t.Fatalf("expected a warning per token, got %d", warnings)
	}
	if rec.count(3) != 2 || rec.count(2) != 1 {
		t.Fatalf("unexpected metrics %v", rec.metrics)
	}
}

func otpDeps(verify func(context.Context, string, string) (*otp.Verified, error), rec *recorder) OTPDeps {
	return OTPDeps{
		Now:         func() time.Time { return testNow },
		Verify:      verify,
		Expiry:      func() time.Duration { return 10 * time.Minute },
		MaxAttempts: func() int { return 3 },
		MetricInc:   rec.inc,
		EmitAudit:   rec.emit,
		Metrics:     OTPMetrics{OTPRequested: 1, OTPVerified: 2, OTPFailed: 3, OTPAccountLocked: 4},
		Errors:      testErrors(),
	}
}

func TestRunVerifyOTPErrorMapping(t *testing.T) {
	until := testNow.Add(30 * time.Minute)
	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{
			name: "unknown request",
			err:  otp.ErrNotFound,
			check: func(t *testing.T, err error) {
				var oe otpErr
				if !errors.As(err, &oe) || oe.remaining != 0 {
					t.Fatalf("expected otp error with nothing remaining, got %v", err)
				}
			},
		},
		{
			name: "expired",
			err:  otp.ErrExpired,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, errExpired) {
					t.Fatalf("expected expired, got %v", err)
				}
			},
		},
		{
			name: "not pending",
			err:  otp.ErrNotPending,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, errExpired) {
					t.Fatalf("expected expired, got %v", err)
				}
			},
		},
		{
			name: "mismatch",
			err:  &otp.VerifyError{Kind: otp.ErrInvalid, Remaining: 2},
			check: func(t *testing.T, err error) {
				var oe otpErr
				if !errors.As(err, &oe) || oe.remaining != 2 || !oe.until.IsZero() {
					t.Fatalf("expected 2 remaining, got %v", err)
				}
			},
		},
		{
			name: "last attempt",
			err:  &otp.VerifyError{Kind: otp.ErrInvalid, LockedUntil: until},
			check: func(t *testing.T, err error) {
				var oe otpErr
				if !errors.As(err, &oe) || !oe.until.Equal(until) {
					t.Fatalf("expected lock expiry, got %v", err)
				}
			},
		},
		{
			name: "exhausted",
			err:  &otp.VerifyError{Kind: otp.ErrAttemptsExceeded, LockedUntil: until},
			check: func(t *testing.T, err error) {
				var le lockErr
				if !errors.Is(err, errExhausted) || !errors.As(err, &le) || le.minutes != 30 {
					t.Fatalf("expected exhausted and locked, got %v", err)
				}
			},
		},
		{
			name: "backend",
			err:  errors.New("boom"),
			check: func(t *testing.T, err error) {
				if !errors.Is(err, errStore) {
					t.Fatalf("expected store error, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			deps := otpDeps(func(context.Context, string, string) (*otp.Verified, error) { return nil, tt.err }, rec)
			_, err := RunVerifyOTP(context.Background(), "req-1", "123456", deps)
			tt.check(t, err)
			if rec.count(3) != 1 {
				t.Fatalf("expected one failure metric, got %v", rec.metrics)
			}
		})
	}
}

func TestRunVerifyOTPSuccess(t *testing.T) {
	rec := &recorder{}
	deps := otpDeps(func(_ context.Context, requestID, code string) (*otp.Verified, error) {
		return &otp.Verified{
			Record:         &store.OtpRecord{RequestID: requestID, UserID: "u1", Purpose: "RESET_PASSWORD"},
			ResetToken:     "reset",
			ResetExpiresAt: testNow.Add(15 * time.Minute),
		}, nil
	}, rec)

	res, err := RunVerifyOTP(context.Background(), " req-1 ", "123456", deps)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.UserID != "u1" || res.ResetToken != "reset" || res.RequestID != "req-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := rec.eventTypes(); len(got) != 1 || got[0] != audit.OTPVerified {
		t.Fatalf("expected otp verified event, got %v", got)
	}
}

func TestRunRequestOTPDecoyShape(t *testing.T) {
	rec := &recorder{}
	var delivered int
	deps := otpDeps(nil, rec)
	deps.FindUser = func(context.Context, string) (*store.User, error) { return nil, errUnknown }
	deps.IsUserNotFound = func(err error) bool { return errors.Is(err, errUnknown) }
	deps.Issue = func(context.Context, string, string) (*otp.Issued, error) {
		t.Fatal("decoy must not issue")
		return nil, nil
	}
	deps.Deliver = func(notify.Delivery) { delivered++ }

	res, err := RunRequestOTP(context.Background(), "ghost@example.com", "RESET_PASSWORD", deps)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.RequestID == "" || res.RemainingAttempts != 3 || !res.ExpiresAt.Equal(testNow.Add(10*time.Minute)) {
		t.Fatalf("unexpected decoy: %+v", res)
	}
	if res.MaskedDestination == "" || res.MaskedDestination == "ghost@example.com" {
		t.Fatalf("expected a masked destination, got %q", res.MaskedDestination)
	}
	if delivered != 0 || rec.count(1) != 0 {
		t.Fatal("decoy must not deliver or count as requested")
	}
}

func TestRunRequestOTPDelivers(t *testing.T) {
	rec := &recorder{}
	var got notify.Delivery
	deps := otpDeps(nil, rec)
	deps.FindUser = func(context.Context, string) (*store.User, error) {
		return &store.User{ID: "u1", Username: "alice", Email: "alice@example.com"}, nil
	}
	deps.IsLocked = func(context.Context, *store.User) (bool, error) { return false, nil }
	deps.Issue = func(_ context.Context, userID, purpose string) (*otp.Issued, error) {
		return &otp.Issued{Code: "424242", RequestID: "req-9", ExpiresAt: testNow.Add(10 * time.Minute), RemainingAttempts: 3}, nil
	}
	deps.TemplateID = func(string) string { return "otp-reset" }
	deps.Deliver = func(d notify.Delivery) { got = d }

	res, err := RunRequestOTP(context.Background(), "alice", "RESET_PASSWORD", deps)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.RequestID != "req-9" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got.RequestID != "req-9" || got.TemplateID != "otp-reset" || got.Vars["code"] != "424242" || got.Vars["expires_minutes"] != "10" {
		t.Fatalf("unexpected delivery: %+v", got)
	}
}

func TestRunRequestOTPValidation(t *testing.T) {
	deps := otpDeps(nil, &recorder{})
	deps.FindUser = func(context.Context, string) (*store.User, error) { return nil, nil }
	deps.Issue = func(context.Context, string, string) (*otp.Issued, error) { return nil, nil }
	if _, err := RunRequestOTP(context.Background(), " ", "", deps); err == nil {
		t.Fatal("expected a validation error")
	}
}

// resetDeps models a revocation cache that forgets everything, so only the
// challenge status can stop a second redemption.
func resetDeps(user *store.User, rec *recorder, status *store.OtpStatus, writes *int) PasswordDeps {
	return PasswordDeps{
		IsRevoked:   func(context.Context, string) (bool, error) { return false, nil },
		RevokeToken: func(context.Context, string) error { return nil },
		ParseReset: func(token string) (*jwt.ResetClaims, error) {
			if token != "reset-token" {
				return nil, errors.New("malformed")
			}
			c := &jwt.ResetClaims{Type: jwt.TypeReset, RequestID: "OTP-7"}
			c.Subject = user.ID
			return c, nil
		},
		LookupChallenge: func(_ context.Context, id string) (*store.OtpRecord, error) {
			return &store.OtpRecord{RequestID: id, UserID: user.ID, Status: *status}, nil
		},
		ConsumeChallenge: func(context.Context, string) (bool, error) {
			if *status != store.OtpVerified {
				return false, nil
			}
			*status = store.OtpConsumed
			return true, nil
		},
		FindUser:       func(context.Context, string) (*store.User, error) { return user, nil },
		VerifyPassword: func(raw, hash string) bool { return raw == hash },
		CheckStrength:  func(string) error { return nil },
		Hash:           func(raw string) (string, error) { return raw, nil },
		UpdatePassword: func(_ context.Context, _ string, hash string) error {
			*writes++
			user.PasswordHash = hash
			return nil
		},
		Unlock:       func(context.Context, *store.User) error { return nil },
		TerminateAll: func(context.Context, string, string) (int, error) { return 0, nil },
		MetricInc:    rec.inc,
		EmitAudit:    rec.emit,
		Metrics:      PasswordMetrics{PasswordReset: 1, PasswordResetFailure: 2},
		Errors:       testErrors(),
	}
}

func TestRunResetPasswordConsumesChallenge(t *testing.T) {
	user := &store.User{ID: "u1", PasswordHash: "old-secret"}
	rec := &recorder{}
	status := store.OtpVerified
	writes := 0
	deps := resetDeps(user, rec, &status, &writes)
	req := ResetPasswordRequest{ResetToken: "reset-token", NewPassword: "new-secret", ConfirmPassword: "new-secret"}

	if err := RunResetPassword(context.Background(), req, deps); err != nil {
		t.Fatalf("first reset: %v", err)
	}
	if status != store.OtpConsumed {
		t.Fatalf("challenge status %s", status)
	}

	req.NewPassword, req.ConfirmPassword = "newer-secret", "newer-secret"
	if err := RunResetPassword(context.Background(), req, deps); !errors.Is(err, errBadToken) {
		t.Fatalf("replayed token must be rejected, got %v", err)
	}
	if writes != 1 || user.PasswordHash != "new-secret" {
		t.Fatalf("password written %d times, hash %q", writes, user.PasswordHash)
	}
	if rec.count(1) != 1 || rec.count(2) != 1 {
		t.Fatalf("metrics %v", rec.metrics)
	}
}

func TestRunResetPasswordLosesConsumeRace(t *testing.T) {
	user := &store.User{ID: "u1", PasswordHash: "old-secret"}
	rec := &recorder{}
	status := store.OtpVerified
	writes := 0
	deps := resetDeps(user, rec, &status, &writes)
	// another redemption consumes the challenge between lookup and consume
	deps.ConsumeChallenge = func(context.Context, string) (bool, error) { return false, nil }

	req := ResetPasswordRequest{ResetToken: "reset-token", NewPassword: "new-secret", ConfirmPassword: "new-secret"}
	if err := RunResetPassword(context.Background(), req, deps); !errors.Is(err, errBadToken) {
		t.Fatalf("expected token invalid, got %v", err)
	}
	if writes != 0 {
		t.Fatal("losing redemption must not write the password")
	}
	if len(rec.events) != 1 || rec.events[0].Metadata["reason"] != "challenge_consumed" {
		t.Fatalf("unexpected audit %+v", rec.events)
	}
}

package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/config"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/store"
	"github.com/MrEthical07/goIdentity/store/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func fastHasher(t *testing.T) *password.Argon2 {
	t.Helper()
	h, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return h
}

func newPolicy(t *testing.T, values map[string]string) (*Policy, *memory.Store, *clock) {
	t.Helper()
	mem := memory.New()
	clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	h := fastHasher(t)
	hash, err := h.Hash("Correct#Pass1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := mem.CreateUser(context.Background(), &store.User{ID: "u1", Username: "user", Email: "user@example.com", PasswordHash: hash}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return NewPolicy(NewStore(mem), h, config.NewStatic(values), clk.now, nil), mem, clk
}

func TestHandleFailedLoginCountsDownAndLocks(t *testing.T) {
	p, mem, clk := newPolicy(t, nil)
	ctx := context.Background()
	u, _ := mem.FindUserByID(ctx, "u1")

	for _, want := range []int{4, 3, 2, 1} {
		got, err := p.HandleFailedLogin(ctx, u)
		if err != nil {
			t.Fatalf("HandleFailedLogin: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d remaining, got %d", want, got)
		}
	}
	got, err := p.HandleFailedLogin(ctx, u)
	if err != nil || got != 0 {
		t.Fatalf("expected lock on fifth failure, got %d %v", got, err)
	}

	stored, _ := mem.FindUserByID(ctx, "u1")
	if stored.Status != store.UserLocked || stored.FailedLoginAttempts != 5 {
		t.Fatalf("unexpected stored state %+v", stored)
	}
	if want := clk.t.Add(30 * time.Minute); !stored.AccountLockedUntil.Equal(want) {
		t.Fatalf("expected lock until %v, got %v", want, stored.AccountLockedUntil)
	}
	if m := p.RemainingLockMinutes(stored); m != 30 {
		t.Fatalf("expected 30 minutes, got %d", m)
	}
}

func TestIsLockedHealsLazily(t *testing.T) {
	p, mem, clk := newPolicy(t, map[string]string{config.KeyMaxFailedLoginAttempts: "2", config.KeyLockoutDurationMinutes: "10"})
	ctx := context.Background()
	u, _ := mem.FindUserByID(ctx, "u1")
	_, _ = p.HandleFailedLogin(ctx, u)
	_, _ = p.HandleFailedLogin(ctx, u)

	locked, err := p.IsLocked(ctx, u)
	if err != nil || !locked {
		t.Fatalf("expected locked, got %v %v", locked, err)
	}

	clk.t = clk.t.Add(10 * time.Minute)
	u, _ = mem.FindUserByID(ctx, "u1")
	locked, err = p.IsLocked(ctx, u)
	if err != nil || locked {
		t.Fatalf("expected healed at window end, got %v %v", locked, err)
	}
	stored, _ := mem.FindUserByID(ctx, "u1")
	if stored.Status != store.UserActive || stored.FailedLoginAttempts != 0 || stored.AccountLockedUntil != nil {
		t.Fatalf("heal not persisted: %+v", stored)
	}
}

func TestVerifyTreatsMalformedHashAsMismatch(t *testing.T) {
	p, _, _ := newPolicy(t, nil)
	if p.Verify("anything", "$argon2id$garbage") {
		t.Fatal("malformed hash must not verify")
	}
	if p.Verify("anything", "") {
		t.Fatal("empty hash must not verify")
	}
}

type failingUsers struct{ store.UserStore }

func (failingUsers) IncrementFailedLogins(context.Context, string) (int, error) {
	return 0, errors.New("disk full")
}

func TestHandleFailedLoginFailsLoudly(t *testing.T) {
	mem := memory.New()
	p := NewPolicy(NewStore(failingUsers{mem}), fastHasher(t), config.NewStatic(nil), nil, nil)
	_, err := p.HandleFailedLogin(context.Background(), &store.User{ID: "u1"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

type countingUsers struct {
	store.UserStore
	clears int
}

func (c *countingUsers) ClearLockout(ctx context.Context, userID string) error {
	c.clears++
	return c.UserStore.ClearLockout(ctx, userID)
}

func TestResetFailedAttemptsSkipsNoop(t *testing.T) {
	mem := memory.New()
	_ = mem.CreateUser(context.Background(), &store.User{ID: "u1", Username: "a", Email: "a@x"})
	counting := &countingUsers{UserStore: mem}
	p := NewPolicy(NewStore(counting), fastHasher(t), config.NewStatic(nil), nil, nil)
	ctx := context.Background()

	u, _ := mem.FindUserByID(ctx, "u1")
	if err := p.ResetFailedAttempts(ctx, u); err != nil {
		t.Fatalf("ResetFailedAttempts: %v", err)
	}
	if counting.clears != 0 {
		t.Fatalf("expected no write for zero counter, got %d", counting.clears)
	}

	_, _ = p.HandleFailedLogin(ctx, u)
	if err := p.ResetFailedAttempts(ctx, u); err != nil {
		t.Fatalf("ResetFailedAttempts: %v", err)
	}
	if counting.clears != 1 || u.FailedLoginAttempts != 0 {
		t.Fatalf("expected one clear, got %d (attempts %d)", counting.clears, u.FailedLoginAttempts)
	}
}

func TestCheckStrengthUsesConfiguredSpecials(t *testing.T) {
	p, _, _ := newPolicy(t, map[string]string{config.KeyPasswordSpecialChars: "%"})
	if err := p.CheckStrength("Abcdefg1!"); err == nil {
		t.Fatal("expected ! to be rejected when only % is special")
	}
	if err := p.CheckStrength("Abcdefg1%"); err != nil {
		t.Fatalf("expected valid password, got %v", err)
	}
}

func TestUpgradeHashKeepsFirstLogin(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	weak, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	oldHash, err := weak.Hash("Correct#Pass1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	_ = mem.CreateUser(ctx, &store.User{ID: "u1", Username: "a", Email: "a@x", PasswordHash: oldHash, FirstLogin: true})

	strong, err := password.NewArgon2(password.Config{Memory: 16 * 1024, Time: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	p := NewPolicy(NewStore(mem), strong, config.NewStatic(nil), nil, nil)

	u, _ := mem.FindUserByID(ctx, "u1")
	p.UpgradeHash(ctx, u, "Correct#Pass1")

	stored, _ := mem.FindUserByID(ctx, "u1")
	if stored.PasswordHash == oldHash {
		t.Fatal("expected hash to be upgraded")
	}
	if !stored.FirstLogin {
		t.Fatal("rehash must not clear first_login")
	}
	if !p.Verify("Correct#Pass1", stored.PasswordHash) {
		t.Fatal("upgraded hash must verify")
	}
}

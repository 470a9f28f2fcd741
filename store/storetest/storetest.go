// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/store"
)

// Seeder is implemented by stores that can insert fixtures.
type Seeder interface {
	store.Store
	CreateUser(ctx context.Context, user *store.User) error
	CreateRole(ctx context.Context, role store.Role) error
	CreatePermission(ctx context.Context, perm store.Permission) error
}

// Run executes the suite. newStore must return an empty store per call.
func Run(t *testing.T, newStore func(t *testing.T) Seeder) {
	t.Run("UserLookupAndCounters", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("ExclusiveSession", func(t *testing.T) { testExclusiveSession(t, newStore(t)) })
	t.Run("SessionDeactivateAndTouch", func(t *testing.T) { testSessionLifecycle(t, newStore(t)) })
	t.Run("OtpRecords", func(t *testing.T) { testOtp(t, newStore(t)) })
	t.Run("OtpConcurrentIssue", func(t *testing.T) { testConcurrentOtpIssue(t, newStore(t)) })
	t.Run("OtpConcurrentAttempts", func(t *testing.T) { testConcurrentOtpAttempts(t, newStore(t)) })
	t.Run("RolesAndPermissions", func(t *testing.T) { testRoles(t, newStore(t)) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, s Seeder, id string) {
	t.Helper()
	err := s.CreateUser(context.Background(), &store.User{
		ID:           id,
		Username:     id,
		Email:        id + "@example.com",
		PasswordHash: "hash",
		Status:       store.UserActive,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", id, err)
	}
}

func testUsers(t *testing.T, s Seeder) {
	ctx := context.Background()
	seedUser(t, s, "alice")

	u, err := s.FindUserByUsernameOrEmail(ctx, "ALICE@example.com")
	if err != nil || u.ID != "alice" {
		t.Fatalf("lookup by email: %v %+v", err, u)
	}
	if _, err := s.FindUserByUsernameOrEmail(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementFailedLogins(ctx, "alice")
		if err != nil {
			t.Fatalf("IncrementFailedLogins: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}

	until := base.Add(30 * time.Minute)
	if err := s.LockUser(ctx, "alice", until); err != nil {
		t.Fatalf("LockUser: %v", err)
	}
	u, _ = s.FindUserByID(ctx, "alice")
	if u.Status != store.UserLocked || u.AccountLockedUntil == nil || !u.AccountLockedUntil.Equal(until) {
		t.Fatalf("unexpected lock state %+v", u)
	}

	if err := s.ClearLockout(ctx, "alice"); err != nil {
		t.Fatalf("ClearLockout: %v", err)
	}
	u, _ = s.FindUserByID(ctx, "alice")
	if u.Status != store.UserActive || u.AccountLockedUntil != nil || u.FailedLoginAttempts != 0 {
		t.Fatalf("lockout not cleared %+v", u)
	}

	if err := s.SetCurrentSession(ctx, "alice", "s1"); err != nil {
		t.Fatalf("SetCurrentSession: %v", err)
	}
	cleared, err := s.ClearCurrentSession(ctx, "alice", "s0")
	if err != nil || cleared {
		t.Fatalf("expected no clear for foreign session, got %v %v", cleared, err)
	}
	cleared, err = s.ClearCurrentSession(ctx, "alice", "s1")
	if err != nil || !cleared {
		t.Fatalf("expected clear, got %v %v", cleared, err)
	}

	if err := s.CreateUser(ctx, &store.User{ID: "bob", Username: "bob", Email: "bob@example.com",
		PasswordHash: "h0", Status: store.UserActive, FirstLogin: true}); err != nil {
		t.Fatalf("CreateUser(bob): %v", err)
	}
	if err := s.RehashPassword(ctx, "bob", "h1"); err != nil {
		t.Fatalf("RehashPassword: %v", err)
	}
	u, _ = s.FindUserByID(ctx, "bob")
	if u.PasswordHash != "h1" || !u.FirstLogin {
		t.Fatalf("rehash changed more than the hash %+v", u)
	}
	if err := s.UpdatePassword(ctx, "bob", "h2"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	u, _ = s.FindUserByID(ctx, "bob")
	if u.PasswordHash != "h2" || u.FirstLogin {
		t.Fatalf("expected first_login cleared %+v", u)
	}
}

func newSession(id, userID string, created time.Time) *store.Session {
	return &store.Session{
		ID:             id,
		UserID:         userID,
		AccessToken:    "access-" + id,
		RefreshToken:   "refresh-" + id,
		IsActive:       true,
		LastActivityAt: created,
		ExpiresAt:      created.Add(15 * time.Minute),
		CreatedAt:      created,
	}
}

func testExclusiveSession(t *testing.T, s Seeder) {
	ctx := context.Background()
	seedUser(t, s, "bob")

	for i, id := range []string{"s1", "s2", "s3"} {
		evicted, err := s.InsertExclusiveSession(ctx, newSession(id, "bob", base.Add(time.Duration(i)*time.Minute)), store.ReasonDuplicateLogin)
		if err != nil {
			t.Fatalf("InsertExclusiveSession(%s): %v", id, err)
		}
		if i > 0 && len(evicted) != 1 {
			t.Fatalf("expected one eviction for %s, got %d", id, len(evicted))
		}
	}

	active, err := s.FindActiveSessionsByUser(ctx, "bob")
	if err != nil {
		t.Fatalf("FindActiveSessionsByUser: %v", err)
	}
	if len(active) != 1 || active[0].ID != "s3" {
		t.Fatalf("expected only s3 active, got %+v", active)
	}
	for _, id := range []string{"s1", "s2"} {
		sess, err := s.FindSessionByID(ctx, id)
		if err != nil {
			t.Fatalf("FindSessionByID(%s): %v", id, err)
		}
		if sess.IsActive || sess.TerminationReason != store.ReasonDuplicateLogin {
			t.Fatalf("expected %s evicted, got %+v", id, sess)
		}
	}
	u, _ := s.FindUserByID(ctx, "bob")
	if u.CurrentSessionID != "s3" {
		t.Fatalf("expected pointer at s3, got %q", u.CurrentSessionID)
	}
}

func testSessionLifecycle(t *testing.T, s Seeder) {
	ctx := context.Background()
	seedUser(t, s, "carol")
	if err := s.SaveSession(ctx, newSession("c1", "carol", base)); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	if sess, err := s.FindSessionByRefreshToken(ctx, "refresh-c1"); err != nil || sess.ID != "c1" {
		t.Fatalf("FindSessionByRefreshToken: %v", err)
	}
	if sess, err := s.FindSessionByAccessToken(ctx, "access-c1"); err != nil || sess.ID != "c1" {
		t.Fatalf("FindSessionByAccessToken: %v", err)
	}

	ok, err := s.TouchSession(ctx, "c1", base.Add(time.Minute), base.Add(16*time.Minute))
	if err != nil || !ok {
		t.Fatalf("TouchSession: %v %v", ok, err)
	}

	expired, err := s.FindExpiredActiveSessions(ctx, base.Add(20*time.Minute), 10)
	if err != nil || len(expired) != 1 {
		t.Fatalf("expected one expired session, got %d %v", len(expired), err)
	}
	expired, _ = s.FindExpiredActiveSessions(ctx, base.Add(10*time.Minute), 10)
	if len(expired) != 0 {
		t.Fatalf("expected none expired yet, got %d", len(expired))
	}

	sess, changed, err := s.DeactivateSession(ctx, "c1", store.ReasonLogout, base.Add(2*time.Minute))
	if err != nil || !changed || sess.IsActive {
		t.Fatalf("DeactivateSession: %v %v %+v", changed, err, sess)
	}
	_, changed, err = s.DeactivateSession(ctx, "c1", store.ReasonTimeout, base.Add(3*time.Minute))
	if err != nil || changed {
		t.Fatalf("second DeactivateSession must be a no-op: %v %v", changed, err)
	}
	sess, _ = s.FindSessionByID(ctx, "c1")
	if sess.TerminationReason != store.ReasonLogout {
		t.Fatalf("reason overwritten: %q", sess.TerminationReason)
	}
	if ok, _ := s.TouchSession(ctx, "c1", base, base.Add(time.Hour)); ok {
		t.Fatal("touch must not revive an inactive session")
	}
}

func testOtp(t *testing.T, s Seeder) {
	ctx := context.Background()
	seedUser(t, s, "dave")

	rec := &store.OtpRecord{
		RequestID:   "OTP-1",
		UserID:      "dave",
		OtpHash:     "h",
		Purpose:     "RESET_PASSWORD",
		Status:      store.OtpPending,
		MaxAttempts: 2,
		ExpiresAt:   base.Add(10 * time.Minute),
		CreatedAt:   base,
	}
	if reused, err := s.IssueOtp(ctx, rec); err != nil || reused {
		t.Fatalf("IssueOtp: %v %v", reused, err)
	}
	found, err := s.FindPendingOtp(ctx, "dave", "RESET_PASSWORD")
	if err != nil || found.RequestID != "OTP-1" {
		t.Fatalf("FindPendingOtp: %v", err)
	}
	for _, want := range []int{1, 2} {
		if n, ok, err := s.ReserveOtpAttempt(ctx, "OTP-1"); err != nil || !ok || n != want {
			t.Fatalf("ReserveOtpAttempt: %d %v %v, want %d", n, ok, err, want)
		}
	}
	if n, ok, err := s.ReserveOtpAttempt(ctx, "OTP-1"); err != nil || ok || n != 2 {
		t.Fatalf("spent budget must refuse: %d %v %v", n, ok, err)
	}
	if _, _, err := s.ReserveOtpAttempt(ctx, "OTP-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	again := &store.OtpRecord{
		RequestID:   "OTP-2",
		UserID:      "dave",
		OtpHash:     "h2",
		Purpose:     "RESET_PASSWORD",
		MaxAttempts: 3,
		ExpiresAt:   base.Add(20 * time.Minute),
		CreatedAt:   base.Add(time.Minute),
	}
	if reused, err := s.IssueOtp(ctx, again); err != nil || !reused {
		t.Fatalf("reissue must reuse: %v %v", reused, err)
	}
	if again.RequestID != "OTP-1" || !again.CreatedAt.Equal(base) {
		t.Fatalf("reissue must keep request id and creation time: %+v", again)
	}
	if _, err := s.FindOtpByRequestID(ctx, "OTP-2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("reissue must not insert a second record, got %v", err)
	}
	if n, ok, err := s.ReserveOtpAttempt(ctx, "OTP-1"); err != nil || !ok || n != 1 {
		t.Fatalf("reissue must reset attempts: %d %v %v", n, ok, err)
	}

	if err := s.UpdateOtpDelivery(ctx, "OTP-1", store.DeliveryFailed, ""); err != nil {
		t.Fatalf("UpdateOtpDelivery: %v", err)
	}
	if ok, err := s.TransitionOtpStatus(ctx, "OTP-1", store.OtpPending, store.OtpVerified); err != nil || !ok {
		t.Fatalf("TransitionOtpStatus: %v %v", ok, err)
	}
	if ok, err := s.TransitionOtpStatus(ctx, "OTP-1", store.OtpPending, store.OtpExpired); err != nil || ok {
		t.Fatalf("transition from the wrong status must be refused: %v %v", ok, err)
	}
	if _, ok, err := s.ReserveOtpAttempt(ctx, "OTP-1"); err != nil || ok {
		t.Fatalf("a verified challenge must not take attempts: %v %v", ok, err)
	}
	if _, err := s.TransitionOtpStatus(ctx, "OTP-missing", store.OtpPending, store.OtpVerified); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindPendingOtp(ctx, "dave", "RESET_PASSWORD"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no pending record, got %v", err)
	}
	got, _ := s.FindOtpByRequestID(ctx, "OTP-1")
	if got.AttemptCount != 1 || got.OtpHash != "h2" || got.DeliveryStatus != store.DeliveryFailed || got.Status != store.OtpVerified {
		t.Fatalf("unexpected record %+v", got)
	}

	fresh := &store.OtpRecord{
		RequestID:   "OTP-3",
		UserID:      "dave",
		OtpHash:     "h3",
		Purpose:     "RESET_PASSWORD",
		MaxAttempts: 3,
		ExpiresAt:   base.Add(30 * time.Minute),
		CreatedAt:   base.Add(2 * time.Minute),
	}
	if reused, err := s.IssueOtp(ctx, fresh); err != nil || reused || fresh.RequestID != "OTP-3" {
		t.Fatalf("issue after verify must create a new record: %v %v", reused, err)
	}
}

func testConcurrentOtpIssue(t *testing.T, s Seeder) {
	ctx := context.Background()
	seedUser(t, s, "frank")

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := &store.OtpRecord{
				RequestID:   fmt.Sprintf("OTP-c%d", i),
				UserID:      "frank",
				OtpHash:     "h",
				Purpose:     "RESET_PASSWORD",
				MaxAttempts: 3,
				ExpiresAt:   base.Add(10 * time.Minute),
				CreatedAt:   base,
			}
			if _, err := s.IssueOtp(ctx, rec); err != nil {
				t.Errorf("IssueOtp: %v", err)
				return
			}
			ids[i] = rec.RequestID
		}()
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent issues produced different challenges: %v", ids)
		}
	}
	for i := range ids {
		id := fmt.Sprintf("OTP-c%d", i)
		if id == ids[0] {
			continue
		}
		if _, err := s.FindOtpByRequestID(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("%s must not exist, got %v", id, err)
		}
	}
}

func testConcurrentOtpAttempts(t *testing.T, s Seeder) {
	ctx := context.Background()
	seedUser(t, s, "gina")
	rec := &store.OtpRecord{
		RequestID:   "OTP-r",
		UserID:      "gina",
		OtpHash:     "h",
		Purpose:     "RESET_PASSWORD",
		MaxAttempts: 3,
		ExpiresAt:   base.Add(10 * time.Minute),
		CreatedAt:   base,
	}
	if _, err := s.IssueOtp(ctx, rec); err != nil {
		t.Fatalf("IssueOtp: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ReserveOtpAttempt(ctx, "OTP-r")
			if err != nil {
				t.Errorf("ReserveOtpAttempt: %v", err)
				return
			}
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := s.FindOtpByRequestID(ctx, "OTP-r")
	if granted != 3 || got.AttemptCount != 3 {
		t.Fatalf("granted %d attempts, stored %d; want 3", granted, got.AttemptCount)
	}
}

func testRoles(t *testing.T, s Seeder) {
	ctx := context.Background()
	seedUser(t, s, "erin")
	for _, r := range []store.Role{{ID: "r1", Code: "ADMIN"}, {ID: "r2", Code: "AGENT"}} {
		if err := s.CreateRole(ctx, r); err != nil {
			t.Fatalf("CreateRole: %v", err)
		}
	}
	for _, p := range []store.Permission{{ID: "p1", Code: "case.read"}, {ID: "p2", Code: "case.write"}} {
		if err := s.CreatePermission(ctx, p); err != nil {
			t.Fatalf("CreatePermission: %v", err)
		}
	}

	if changed, err := s.AssignRole(ctx, "erin", "r1"); err != nil || !changed {
		t.Fatalf("AssignRole: %v %v", changed, err)
	}
	if changed, _ := s.AssignRole(ctx, "erin", "r1"); changed {
		t.Fatal("second AssignRole must report no change")
	}
	if _, err := s.AssignRole(ctx, "erin", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown role, got %v", err)
	}
	if changed, _ := s.ReplaceUserRoles(ctx, "erin", []string{"r1"}); changed {
		t.Fatal("replace with same set must report no change")
	}
	if changed, _ := s.ReplaceUserRoles(ctx, "erin", []string{"r1", "r2"}); !changed {
		t.Fatal("replace with new set must report change")
	}

	if changed, err := s.AssignPermissions(ctx, "r1", []string{"p1", "p2", "p1"}); err != nil || !changed {
		t.Fatalf("AssignPermissions: %v %v", changed, err)
	}
	if changed, _ := s.AssignPermissions(ctx, "r1", []string{"p1"}); changed {
		t.Fatal("re-assigning held permission must report no change")
	}
	if changed, _ := s.ReplaceRolePermissions(ctx, "r2", []string{"p1"}); !changed {
		t.Fatal("ReplaceRolePermissions must report change")
	}
	if changed, _ := s.RevokePermission(ctx, "r1", "p2"); !changed {
		t.Fatal("RevokePermission must report change")
	}

	roles, err := s.FindRolesByUser(ctx, "erin")
	if err != nil || len(roles) != 2 {
		t.Fatalf("FindRolesByUser: %v %+v", err, roles)
	}
	perms, err := s.FindPermissionsByRoles(ctx, []string{"r1", "r2"})
	if err != nil || len(perms) != 1 || perms[0].Code != "case.read" {
		t.Fatalf("FindPermissionsByRoles: %v %+v", err, perms)
	}

	if changed, _ := s.RevokeRole(ctx, "erin", "r2"); !changed {
		t.Fatal("RevokeRole must report change")
	}
	if changed, _ := s.RevokeRole(ctx, "erin", "r2"); changed {
		t.Fatal("second RevokeRole must report no change")
	}
}

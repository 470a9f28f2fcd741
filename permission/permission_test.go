package permission

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/cache"
	"github.com/MrEthical07/goIdentity/store"
	"github.com/MrEthical07/goIdentity/store/memory"
)

type fixture struct {
	mem   *memory.Store
	cache *Cache
	admin *Admin
	raw   cache.Cache
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	ctx := context.Background()
	mem := memory.New()
	for _, r := range []store.Role{{ID: "r-agent", Code: "AGENT"}, {ID: "r-admin", Code: "ADMIN"}} {
		if err := mem.CreateRole(ctx, r); err != nil {
			t.Fatalf("CreateRole: %v", err)
		}
	}
	for _, p := range []store.Permission{{ID: "p-read", Code: "case:read"}, {ID: "p-write", Code: "case:write"}, {ID: "p-users", Code: "users:manage"}} {
		if err := mem.CreatePermission(ctx, p); err != nil {
			t.Fatalf("CreatePermission: %v", err)
		}
	}

	raw := cache.NewRedis(rdb, "perm")
	pc := NewCache(mem, raw, 0, nil)
	bus := NewBus()
	bus.Subscribe(pc.Handle)
	return &fixture{mem: mem, cache: pc, admin: NewAdmin(mem, bus), raw: raw, mr: mr}
}

func TestGetResolvesAndPopulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.admin.AssignRole(ctx, "u1", "r-agent"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if _, err := f.admin.BulkAssignPermissions(ctx, "r-agent", []string{"p-write", "p-read"}); err != nil {
		t.Fatalf("BulkAssignPermissions: %v", err)
	}

	set, err := f.cache.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(set.Roles, []string{"AGENT"}) || !reflect.DeepEqual(set.Permissions, []string{"case:read", "case:write"}) {
		t.Fatalf("unexpected set %+v", set)
	}
	if !set.Has("case:read") || set.Has("users:manage") || !set.HasRole("AGENT") {
		t.Fatal("Has/HasRole mismatch")
	}
	if !f.mr.Exists("perm:u1") {
		t.Fatal("entry should be cached")
	}
	if ttl := f.mr.TTL("perm:u1"); ttl != DefaultTTL {
		t.Fatalf("ttl %v", ttl)
	}
}

func TestUserRoleChangeEvictsOnlyThatUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.admin.AssignRole(ctx, "u1", "r-agent")
	_, _ = f.admin.AssignRole(ctx, "u2", "r-agent")
	_, _ = f.cache.Get(ctx, "u1")
	_, _ = f.cache.Get(ctx, "u2")

	if _, err := f.admin.AssignRole(ctx, "u1", "r-admin"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if f.mr.Exists("perm:u1") {
		t.Fatal("u1 entry must be evicted")
	}
	if !f.mr.Exists("perm:u2") {
		t.Fatal("u2 entry must survive")
	}
	set, _ := f.cache.Get(ctx, "u1")
	if !set.HasRole("ADMIN") {
		t.Fatalf("new role missing: %+v", set)
	}
}

func TestRolePermissionChangeEvictsEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.admin.AssignRole(ctx, "u1", "r-agent")
	_, _ = f.admin.AssignRole(ctx, "u2", "r-admin")
	_, _ = f.admin.AssignPermissionToRole(ctx, "r-agent", "p-read")
	_, _ = f.cache.Get(ctx, "u1")
	_, _ = f.cache.Get(ctx, "u2")

	if _, err := f.admin.ReplaceRolePermissions(ctx, "r-agent", []string{"p-write"}); err != nil {
		t.Fatalf("ReplaceRolePermissions: %v", err)
	}
	if f.mr.Exists("perm:u1") || f.mr.Exists("perm:u2") {
		t.Fatal("all entries must be evicted")
	}
	set, _ := f.cache.Get(ctx, "u1")
	if set.Has("case:read") || !set.Has("case:write") {
		t.Fatalf("stale permissions served: %+v", set)
	}
}

func TestNoopMutationDoesNotEvict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.admin.AssignRole(ctx, "u1", "r-agent")
	_, _ = f.cache.Get(ctx, "u1")

	changed, err := f.admin.AssignRole(ctx, "u1", "r-agent")
	if err != nil || changed {
		t.Fatalf("expected no-op, changed=%v err=%v", changed, err)
	}
	if !f.mr.Exists("perm:u1") {
		t.Fatal("no-op must not evict")
	}
	changed, _ = f.admin.ReplaceRoles(ctx, "u1", []string{"r-agent"})
	if changed || !f.mr.Exists("perm:u1") {
		t.Fatal("identical replace must not evict")
	}
}

func TestRefreshAllEvictsEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.cache.Get(ctx, "u1")
	_, _ = f.cache.Get(ctx, "u2")
	if err := f.admin.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if f.mr.Exists("perm:u1") || f.mr.Exists("perm:u2") {
		t.Fatal("all entries must be evicted")
	}
}

func TestMutationOnUnknownRole(t *testing.T) {
	f := newFixture(t)
	if _, err := f.admin.AssignRole(context.Background(), "u1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// blockingRoles pauses the first FindPermissionsByRoles so an invalidation
// can land between the store read and the cache write.
type blockingRoles struct {
	store.RoleStore
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (b *blockingRoles) FindPermissionsByRoles(ctx context.Context, ids []string) ([]store.Permission, error) {
	perms, err := b.RoleStore.FindPermissionsByRoles(ctx, ids)
	b.once.Do(func() {
		close(b.reached)
		<-b.release
	})
	return perms, err
}

func TestStalePopulateIsDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.admin.AssignRole(ctx, "u1", "r-agent")
	_, _ = f.admin.AssignPermissionToRole(ctx, "r-agent", "p-read")

	br := &blockingRoles{RoleStore: f.mem, reached: make(chan struct{}), release: make(chan struct{})}
	pc := NewCache(br, f.raw, 0, nil)

	done := make(chan *Set)
	go func() {
		set, _ := pc.Get(ctx, "u1")
		done <- set
	}()
	<-br.reached
	if err := pc.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	close(br.release)
	<-done

	if f.mr.Exists("perm:u1") {
		t.Fatal("set computed before invalidation must not be cached")
	}
}

func TestBusJoinsHandlerErrors(t *testing.T) {
	bus := NewBus()
	boom := errors.New("boom")
	calls := 0
	bus.Subscribe(func(context.Context, Event) error { calls++; return boom })
	bus.Subscribe(func(context.Context, Event) error { calls++; return nil })
	err := bus.Publish(context.Background(), Event{Kind: RefreshAll})
	if !errors.Is(err, boom) || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goIdentity/cache"
	"github.com/MrEthical07/goIdentity/store"
)

// DefaultTTL is how long a resolved set is served from cache.
const DefaultTTL = time.Hour

var (
	// ErrUnavailable wraps role store failures.
	ErrUnavailable = errors.New("permission store unavailable")
	// ErrInvalidation is returned when a cache entry could not be removed
	// after a mutation.
	ErrInvalidation = errors.New("permission cache invalidation failed")
)

// Set is a user's resolved authorization: role and permission codes, sorted.
type Set struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Has reports whether code is among the permissions.
func (s *Set) Has(code string) bool {
	i := sort.SearchStrings(s.Permissions, code)
	return i < len(s.Permissions) && s.Permissions[i] == code
}

// HasRole reports whether code is among the roles.
func (s *Set) HasRole(code string) bool {
	i := sort.SearchStrings(s.Roles, code)
	return i < len(s.Roles) && s.Roles[i] == code
}

// Cache resolves permission sets cache-then-store-then-populate.
//
// An epoch counter guards population: a set computed before an invalidation
// is never written after it. Invalidation holds the write lock while bumping
// the epoch and evicting; population holds the read lock while checking the
// epoch and writing.
type Cache struct {
	roles  store.RoleStore
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	epoch uint64

	onLookup func(hit bool)
}

// OnLookup registers fn to be told whether each Get was served from cache.
// It must be called before the cache is shared.
func (c *Cache) OnLookup(fn func(hit bool)) {
	c.onLookup = fn
}

func (c *Cache) observe(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}

// NewCache wires a cache. c should be dedicated to permission sets since
// InvalidateAll clears all of it.
func NewCache(roles store.RoleStore, c cache.Cache, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{roles: roles, cache: c, ttl: ttl, logger: logger}
}

func (c *Cache) currentEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Get returns the user's set.
func (c *Cache) Get(ctx context.Context, userID string) (*Set, error) {
	raw, err := c.cache.Get(ctx, userID)
	switch {
	case err == nil:
		var set Set
		if jerr := json.Unmarshal(raw, &set); jerr == nil {
			c.observe(true)
			return &set, nil
		}
		c.logger.Warn("goIdentity: discarding undecodable permission entry", "user_id", userID)
	case !errors.Is(err, cache.ErrMiss):
		c.logger.Warn("goIdentity: permission cache read failed", "error", err)
	}

	c.observe(false)
	start := c.currentEpoch()
	set, err := c.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.populate(ctx, userID, set, start)
	return set, nil
}

func (c *Cache) resolve(ctx context.Context, userID string) (*Set, error) {
	roles, err := c.roles.FindRolesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	set := &Set{Roles: []string{}, Permissions: []string{}}
	if len(roles) == 0 {
		return set, nil
	}
	ids := make([]string, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
		set.Roles = append(set.Roles, r.Code)
	}
	perms, err := c.roles.FindPermissionsByRoles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, p := range perms {
		set.Permissions = append(set.Permissions, p.Code)
	}
	set.Roles = store.Dedupe(set.Roles)
	set.Permissions = store.Dedupe(set.Permissions)
	sort.Strings(set.Roles)
	sort.Strings(set.Permissions)
	return set, nil
}

func (c *Cache) populate(ctx context.Context, userID string, set *Set, start uint64) {
	raw, err := json.Marshal(set)
	if err != nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.epoch != start {
		return
	}
	if err := c.cache.Set(ctx, userID, raw, c.ttl); err != nil {
		c.logger.Warn("goIdentity: permission cache write failed", "error", err)
	}
}

// Invalidate removes one user's entry.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	if err := c.cache.Evict(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidation, err)
	}
	return nil
}

// InvalidateAll removes every entry.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	if err := c.cache.EvictAll(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidation, err)
	}
	return nil
}

// Handle is the bus subscriber: user role changes evict that user, anything
// touching a role's permissions evicts everyone.
func (c *Cache) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case UserRolesChanged:
		return c.Invalidate(ctx, ev.UserID)
	default:
		return c.InvalidateAll(ctx)
	}
}

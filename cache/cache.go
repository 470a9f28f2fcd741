// Package cache provides the TTL key/value abstraction used for sessions,
// permission grants and revoked tokens. Caches are advisory: every value in
// them can be recomputed from the store, except revocations which are bounded
// by token lifetime.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned by Get when the key is absent or expired.
	ErrMiss = errors.New("cache: miss")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("cache: unavailable")
)

// Cache is a namespaced TTL cache. EvictAll clears only the namespace.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Evict(ctx context.Context, key string) error
	EvictAll(ctx context.Context) error
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const evictScanCount = 512

// Redis is a Cache stored under "<namespace>:" in a Redis keyspace.
type Redis struct {
	rdb       redis.UniversalClient
	namespace string
}

// NewRedis returns a cache scoped to namespace.
func NewRedis(rdb redis.UniversalClient, namespace string) *Redis {
	if namespace == "" {
		namespace = "cache"
	}
	return &Redis{rdb: rdb, namespace: namespace}
}

var _ Cache = (*Redis)(nil)

func (r *Redis) key(k string) string {
	return r.namespace + ":" + k
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return b, nil
}

// Set stores value for ttl. A non-positive ttl deletes the key instead of
// storing it without expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return r.Evict(ctx, key)
	}
	if err := r.rdb.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Evict(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// EvictAll removes every key in the namespace with SCAN + DEL.
func (r *Redis) EvictAll(ctx context.Context) error {
	var cursor uint64
	match := r.namespace + ":*"
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, match, evictScanCount).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

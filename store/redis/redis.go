// Package redis provides a Redis-backed route hash cache so that several
// processes sharing one credential also share what they learned about the
// server's bucket assignments.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ryhazerus/restlimit/store"
)

// Compile-time interface check.
var _ store.Store = (*RedisStore)(nil)

const defaultPrefix = "restlimit:hash:"

// RedisStore is a Store backed by Redis. Each route is stored as a Redis hash
// with fields "hash" and "last_access" (unix milliseconds). When a TTL is set
// it is refreshed on every write so idle routes expire on their own.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithPrefix sets the key prefix (default "restlimit:hash:").
func WithPrefix(prefix string) Option {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// WithTTL expires routes that have not been written for ttl. Zero disables
// expiry and leaves cleanup to Sweep.
func WithTTL(ttl time.Duration) Option {
	return func(r *RedisStore) {
		r.ttl = ttl
	}
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	r := &RedisStore{client: client, prefix: defaultPrefix}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the cached entry for route.
func (r *RedisStore) Get(ctx context.Context, route string) (store.Entry, bool, error) {
	vals, err := r.client.HGetAll(ctx, r.key(route)).Result()
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("restlimit/store/redis: get: %w", err)
	}
	if len(vals) == 0 || vals["hash"] == "" {
		return store.Entry{}, false, nil
	}

	ms, err := strconv.ParseInt(vals["last_access"], 10, 64)
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("restlimit/store/redis: parse last_access: %w", err)
	}
	return store.Entry{Hash: vals["hash"], LastAccess: time.UnixMilli(ms)}, true, nil
}

// Set stores the entry for route.
func (r *RedisStore) Set(ctx context.Context, route string, e store.Entry) error {
	key := r.key(route)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "hash", e.Hash, "last_access", e.LastAccess.UnixMilli())
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restlimit/store/redis: set: %w", err)
	}
	return nil
}

// touchScript only updates routes that already exist, so a touch racing a
// sweep cannot resurrect a hashless entry.
//
// KEYS[1] = route key
// ARGV[1] = last access, unix milliseconds
// ARGV[2] = ttl in seconds, 0 for none
var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return 0
end
redis.call("HSET", KEYS[1], "last_access", ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
    redis.call("EXPIRE", KEYS[1], ttl)
end
return 1
`)

// Touch refreshes the last access time for route if it is cached.
func (r *RedisStore) Touch(ctx context.Context, route string, at time.Time) error {
	ttl := int64(r.ttl.Seconds())
	err := touchScript.Run(ctx, r.client, []string{r.key(route)}, at.UnixMilli(), ttl).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("restlimit/store/redis: touch: %w", err)
	}
	return nil
}

// Sweep scans every route under the prefix and deletes those last accessed
// before cutoff.
func (r *RedisStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.HGet(ctx, key, "last_access").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("restlimit/store/redis: sweep: %w", err)
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || time.UnixMilli(ms).Before(cutoff) {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("restlimit/store/redis: sweep: %w", err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("restlimit/store/redis: sweep: %w", err)
	}
	return removed, nil
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(route string) string {
	return r.prefix + route
}

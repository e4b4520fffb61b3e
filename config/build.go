package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ryhazerus/restlimit"
	"github.com/ryhazerus/restlimit/store"
	"github.com/ryhazerus/restlimit/store/redis"
)

// OpenStore builds the configured route hash store. The redis store is
// pinged so a bad address fails here rather than on the first request.
func (s StoreConfig) OpenStore(ctx context.Context) (store.Store, error) {
	switch s.Type {
	case "", StoreMemory:
		return store.NewMemoryStore(), nil

	case StoreSQLite:
		return store.NewSQLiteStore(s.SQLitePath)

	case StoreTiered:
		persistent, err := store.NewSQLiteStore(s.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store.NewTieredStore(persistent), nil

	case StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis %s: %w", s.Redis.Addr, err)
		}
		var opts []redis.Option
		if s.Redis.Prefix != "" {
			opts = append(opts, redis.WithPrefix(s.Redis.Prefix))
		}
		if s.Redis.TTL > 0 {
			opts = append(opts, redis.WithTTL(s.Redis.TTL))
		}
		return redis.NewRedisStore(client, opts...), nil
	}
	return nil, fmt.Errorf("unknown store type %q", s.Type)
}

// NewLogger returns a slog logger writing to w in the configured format.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Options converts the configuration into client options. The store and
// logger are built by the caller so it can close or share them.
func (c *Config) Options(s store.Store, logger *slog.Logger) []restlimit.Option {
	opts := []restlimit.Option{
		restlimit.WithBaseURL(c.API.BaseURL),
		restlimit.WithVersion(c.API.Version),
		restlimit.WithToken(c.API.Token),
		restlimit.WithAuthPrefix(c.API.AuthPrefix),
		restlimit.WithUserAgent(c.API.UserAgent),
		restlimit.WithRequestTimeout(c.API.RequestTimeout),
		restlimit.WithRetryLimit(c.Limits.RetryLimit),
		restlimit.WithRateLimiterOffset(c.Limits.Offset),
		restlimit.WithGlobalRequestsPerSecond(c.Limits.GlobalRequestsPerSecond),
		restlimit.WithHashSweep(c.Sweep.HashInterval, c.Sweep.HashLifetime),
		restlimit.WithBucketSweep(c.Sweep.BucketInterval),
	}
	if s != nil {
		opts = append(opts, restlimit.WithStore(s))
	}
	if logger != nil {
		opts = append(opts, restlimit.WithLogger(logger))
	}
	if n := c.Limits.InvalidRequestWarningInterval; n > 0 {
		// The client logs the warning itself; no callback is needed.
		opts = append(opts, restlimit.WithInvalidRequestWarning(n, nil))
	}
	return opts
}

// NewClient opens the configured store and returns a client using it.
// Closing the client closes the store.
func (c *Config) NewClient(ctx context.Context, w io.Writer, extra ...restlimit.Option) (*restlimit.Client, error) {
	s, err := c.Store.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", c.Store.Type, err)
	}
	opts := append(c.Options(s, c.Log.NewLogger(w)), extra...)
	return restlimit.New(opts...), nil
}

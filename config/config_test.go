package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/ryhazerus/restlimit"
	"github.com/ryhazerus/restlimit/store"
	"github.com/ryhazerus/restlimit/store/redis"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "restlimit.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.API.BaseURL != restlimit.DefaultBaseURL {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Version != 10 || cfg.API.AuthPrefix != "Bot" {
		t.Errorf("Version/AuthPrefix = %d %q", cfg.API.Version, cfg.API.AuthPrefix)
	}
	if cfg.API.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %s, want 15s", cfg.API.RequestTimeout)
	}
	if cfg.Limits.RetryLimit != 3 || cfg.Limits.Offset != 0 || cfg.Limits.GlobalRequestsPerSecond != 0 {
		t.Errorf("Limits = %+v", cfg.Limits)
	}
	if cfg.Sweep.HashInterval != 4*time.Hour || cfg.Sweep.HashLifetime != 24*time.Hour || cfg.Sweep.BucketInterval != time.Hour {
		t.Errorf("Sweep = %+v", cfg.Sweep)
	}
	if cfg.Store.Type != StoreMemory || cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Store/Log = %+v %+v", cfg.Store, cfg.Log)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: http://localhost:9000/api
  version: 9
  token: abc
  request_timeout: 2s
limits:
  retry_limit: 1
  offset: 250ms
  global_requests_per_second: 50
store:
  type: sqlite
  sqlite_path: /tmp/hashes.db
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.API.BaseURL != "http://localhost:9000/api" || cfg.API.Version != 9 || cfg.API.Token != "abc" {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.API.RequestTimeout != 2*time.Second {
		t.Errorf("RequestTimeout = %s", cfg.API.RequestTimeout)
	}
	if cfg.Limits.RetryLimit != 1 || cfg.Limits.Offset != 250*time.Millisecond || cfg.Limits.GlobalRequestsPerSecond != 50 {
		t.Errorf("Limits = %+v", cfg.Limits)
	}
	if cfg.Store.Type != StoreSQLite || cfg.Store.SQLitePath != "/tmp/hashes.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	// Untouched sections keep their defaults.
	if cfg.API.UserAgent != restlimit.DefaultUserAgent || cfg.Sweep.BucketInterval != time.Hour {
		t.Errorf("defaults lost: %q %s", cfg.API.UserAgent, cfg.Sweep.BucketInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RESTLIMIT_API_TOKEN", "from-env")
	t.Setenv("RESTLIMIT_LIMITS_RETRY_LIMIT", "7")
	t.Setenv("RESTLIMIT_SWEEP_HASH_LIFETIME", "1h")

	cfg, err := Load(writeConfig(t, "api:\n  token: from-file\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.Token != "from-env" {
		t.Errorf("Token = %q, want from-env", cfg.API.Token)
	}
	if cfg.Limits.RetryLimit != 7 {
		t.Errorf("RetryLimit = %d, want 7", cfg.Limits.RetryLimit)
	}
	if cfg.Sweep.HashLifetime != time.Hour {
		t.Errorf("HashLifetime = %s, want 1h", cfg.Sweep.HashLifetime)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			API: APIConfig{
				BaseURL:        "https://discord.com/api",
				UserAgent:      "ua",
				RequestTimeout: time.Second,
			},
			Store: StoreConfig{Type: StoreMemory},
			Log:   LogConfig{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad url", func(c *Config) { c.API.BaseURL = "not a url" }, "BaseURL must be a valid URL"},
		{"negative retries", func(c *Config) { c.Limits.RetryLimit = -1 }, "RetryLimit must be at least 0"},
		{"zero timeout", func(c *Config) { c.API.RequestTimeout = 0 }, "RequestTimeout must be at least 1ms"},
		{"unknown store", func(c *Config) { c.Store.Type = "etcd" }, "Type must be one of"},
		{"sqlite without path", func(c *Config) { c.Store.Type = StoreSQLite }, "sqlite_path is required"},
		{"redis without addr", func(c *Config) { c.Store.Type = StoreRedis }, "redis.addr is required"},
		{"bad redis addr", func(c *Config) { c.Store.Redis.Addr = "localhost" }, "host:port"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "Level must be one of"},
		{"sweep without lifetime", func(c *Config) { c.Sweep.HashInterval = time.Minute }, "hash_lifetime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := StoreConfig{Type: StoreMemory}.OpenStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*store.MemoryStore); !ok {
		t.Errorf("memory store = %T", s)
	}

	path := filepath.Join(t.TempDir(), "hashes.db")
	s, err = StoreConfig{Type: StoreTiered, SQLitePath: path}.OpenStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*store.TieredStore); !ok {
		t.Errorf("tiered store = %T", s)
	}
	s.Close()

	mr := miniredis.RunT(t)
	s, err = StoreConfig{Type: StoreRedis, Redis: RedisConfig{Addr: mr.Addr(), Prefix: "test:"}}.OpenStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*redis.RedisStore); !ok {
		t.Errorf("redis store = %T", s)
	}
	if err := s.Set(ctx, "GET:/gateway", store.Entry{Hash: "h", LastAccess: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("test:GET:/gateway") {
		t.Error("redis key not written with configured prefix")
	}
}

func TestOpenStoreRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := StoreConfig{Type: StoreRedis, Redis: RedisConfig{Addr: addr}}.OpenStore(context.Background())
	if err == nil {
		t.Fatal("expected ping error")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}

	LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("shown", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("json output = %s", buf.String())
	}
}

func TestNewClient(t *testing.T) {
	cfg, err := Load(writeConfig(t, "api:\n  token: abc\n"))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	c, err := cfg.NewClient(context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

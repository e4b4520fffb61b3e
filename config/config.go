// Package config loads restlimit client configuration from a YAML file and
// RESTLIMIT_ prefixed environment variables.
//
// Every field has a default matching the library's own, so an empty file
// (or no file at all) yields a working in-memory client that only lacks a
// token.
package config

import (
	"log/slog"
	"time"

	"github.com/ryhazerus/restlimit"
)

// Store types.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreTiered = "tiered"
)

// Config is the top-level configuration.
type Config struct {
	API    APIConfig    `yaml:"api" mapstructure:"api"`
	Limits LimitsConfig `yaml:"limits" mapstructure:"limits"`
	Sweep  SweepConfig  `yaml:"sweep" mapstructure:"sweep"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// APIConfig describes the server and the credential used against it.
type APIConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	Version    int    `yaml:"version" mapstructure:"version" validate:"min=0"`
	Token      string `yaml:"token" mapstructure:"token"`
	AuthPrefix string `yaml:"auth_prefix" mapstructure:"auth_prefix"`
	UserAgent  string `yaml:"user_agent" mapstructure:"user_agent" validate:"required"`

	// RequestTimeout bounds each network attempt.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" validate:"min=1ms"`
}

// LimitsConfig tunes retry and rate limit handling.
type LimitsConfig struct {
	RetryLimit int `yaml:"retry_limit" mapstructure:"retry_limit" validate:"min=0"`

	// Offset is added to every server-declared wait.
	Offset time.Duration `yaml:"offset" mapstructure:"offset" validate:"min=0s"`

	// GlobalRequestsPerSecond throttles the client ahead of the server.
	// Zero disables it.
	GlobalRequestsPerSecond int `yaml:"global_requests_per_second" mapstructure:"global_requests_per_second" validate:"min=0"`

	// InvalidRequestWarningInterval logs a warning every n invalid
	// responses. Zero disables it.
	InvalidRequestWarningInterval int `yaml:"invalid_request_warning_interval" mapstructure:"invalid_request_warning_interval" validate:"min=0"`
}

// SweepConfig controls background garbage collection. Zero intervals
// disable a sweeper.
type SweepConfig struct {
	HashInterval   time.Duration `yaml:"hash_interval" mapstructure:"hash_interval" validate:"min=0s"`
	HashLifetime   time.Duration `yaml:"hash_lifetime" mapstructure:"hash_lifetime" validate:"min=0s"`
	BucketInterval time.Duration `yaml:"bucket_interval" mapstructure:"bucket_interval" validate:"min=0s"`
}

// StoreConfig selects the route hash cache backend.
type StoreConfig struct {
	Type string `yaml:"type" mapstructure:"type" validate:"oneof=memory sqlite redis tiered"`

	// SQLitePath is used by the sqlite and tiered stores.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`

	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db" validate:"min=0"`
	Prefix   string        `yaml:"prefix" mapstructure:"prefix"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl" validate:"min=0s"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=text json"`
}

// defaults lists every key with its default value. Load registers them with
// viper so environment variables can override keys absent from the file.
var defaults = map[string]any{
	"api.base_url":        restlimit.DefaultBaseURL,
	"api.version":         restlimit.DefaultVersion,
	"api.token":           "",
	"api.auth_prefix":     "Bot",
	"api.user_agent":      restlimit.DefaultUserAgent,
	"api.request_timeout": restlimit.DefaultRequestTimeout,

	"limits.retry_limit":                      restlimit.DefaultRetryLimit,
	"limits.offset":                           time.Duration(0),
	"limits.global_requests_per_second":       0,
	"limits.invalid_request_warning_interval": 0,

	"sweep.hash_interval":   restlimit.DefaultHashSweepInterval,
	"sweep.hash_lifetime":   restlimit.DefaultHashLifetime,
	"sweep.bucket_interval": restlimit.DefaultBucketSweepInterval,

	"store.type":           StoreMemory,
	"store.sqlite_path":    "restlimit.db",
	"store.redis.addr":     "",
	"store.redis.password": "",
	"store.redis.db":       0,
	"store.redis.prefix":   "restlimit:hash:",
	"store.redis.ttl":      time.Duration(0),

	"log.level":  "info",
	"log.format": "text",
}

// SlogLevel returns the slog level for the configured name.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

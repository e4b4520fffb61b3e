package restlimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ryhazerus/restlimit/store"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Defaults applied by New.
const (
	DefaultBaseURL        = "https://discord.com/api"
	DefaultVersion        = 10
	DefaultRequestTimeout = 15 * time.Second
	DefaultRetryLimit     = 3
	DefaultUserAgent      = "restlimit (https://github.com/ryhazerus/restlimit, 1.0)"

	DefaultHashSweepInterval   = 4 * time.Hour
	DefaultHashLifetime        = 24 * time.Hour
	DefaultBucketSweepInterval = time.Hour
)

const shardCount = 16

// bucketShard is one slice of the bucket registry. Bucket ids are spread
// over shards by hash so thousands of routes do not contend on one lock.
type bucketShard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Client dispatches requests to the API while honouring its per-route and
// global rate limits. It is safe for concurrent use.
type Client struct {
	baseURL    string
	version    int
	token      string
	authPrefix string
	userAgent  string
	httpClient *http.Client

	requestTimeout  time.Duration
	retryLimit      int
	offset          time.Duration
	globalPerSecond int

	store   store.Store
	global  *globalState
	shards  [shardCount]bucketShard
	invalid invalidRequests

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	onResponse        func(ResponseEvent)
	onDebug           func(string)
	onRateLimit       func(RateLimitData)
	onInvalid         func(InvalidRequestWarning)
	invalidInterval   int
	rejectOnRateLimit func(RateLimitData) bool

	hashSweepInterval   time.Duration
	hashLifetime        time.Duration
	bucketSweepInterval time.Duration
	stopChan            chan struct{}
	wg                  sync.WaitGroup
	once                sync.Once
}

// New creates a Client with the given options and starts its sweepers.
// Call Close to stop them.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:             DefaultBaseURL,
		version:             DefaultVersion,
		authPrefix:          "Bot",
		userAgent:           DefaultUserAgent,
		requestTimeout:      DefaultRequestTimeout,
		retryLimit:          DefaultRetryLimit,
		hashSweepInterval:   DefaultHashSweepInterval,
		hashLifetime:        DefaultHashLifetime,
		bucketSweepInterval: DefaultBucketSweepInterval,
		stopChan:            make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.store == nil {
		c.store = store.NewMemoryStore()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		// Unexported registry so recording never needs a nil check.
		c.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	if c.retryLimit < 0 {
		c.retryLimit = 0
	}
	for i := range c.shards {
		c.shards[i].buckets = make(map[string]*bucket)
	}
	c.global = newGlobalState(c.globalPerSecond)

	c.startSweepers()
	return c
}

// Request sends method to path and returns the response body when the server
// answered 2xx with JSON. Non-JSON successes and unrecognised statuses return
// a nil body and a nil error.
//
// The call waits out any rate limit in force, retries 429s for as long as the
// server asks, and retries transport failures and 5xx responses up to the
// retry limit. Cancelling ctx abandons the request wherever it is queued.
func (c *Client) Request(ctx context.Context, method, path string, opts RequestOptions) (json.RawMessage, error) {
	site := captureCallSite()

	route := routeFor(method, path, time.Now())
	r, err := newRequest(method, path, opts, route, site)
	if err != nil {
		return nil, err
	}
	if r.auth() && c.token == "" {
		return nil, ErrTokenMissing
	}

	hash := c.hashFor(ctx, route)
	b := c.bucketFor(hash, route.MajorParameter)
	return b.add(ctx, r, opts.Front)
}

// Do is Request followed by decoding the JSON body into out. A nil body
// leaves out untouched.
func (c *Client) Do(ctx context.Context, method, path string, opts RequestOptions, out any) error {
	body, err := c.Request(ctx, method, path, opts)
	if err != nil {
		return err
	}
	if body == nil || out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("restlimit: decode %s %s: %w", method, path, err)
	}
	return nil
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string, opts RequestOptions) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, path, opts)
}

// Post sends a POST request.
func (c *Client) Post(ctx context.Context, path string, opts RequestOptions) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, path, opts)
}

// Put sends a PUT request.
func (c *Client) Put(ctx context.Context, path string, opts RequestOptions) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPut, path, opts)
}

// Patch sends a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, opts RequestOptions) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPatch, path, opts)
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts RequestOptions) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodDelete, path, opts)
}

// hashFor returns the bucket hash the server last assigned to route, or the
// route id itself before any hash is known.
func (c *Client) hashFor(ctx context.Context, route RouteData) string {
	e, ok, err := c.store.Get(ctx, route.ID)
	if err != nil {
		c.logger.Warn("route hash lookup failed", "route", route.ID, "error", err)
		return route.ID
	}
	if !ok {
		return route.ID
	}
	return e.Hash
}

func (c *Client) shard(id string) *bucketShard {
	return &c.shards[xxhash.Sum64String(id)%shardCount]
}

// bucketFor returns the bucket for hash and major parameter, creating it on
// first use. The returned bucket is marked pending so the sweeper leaves it
// alone until the request is done with it.
func (c *Client) bucketFor(hash, major string) *bucket {
	id := hash + ":" + major
	s := c.shard(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[id]
	if !ok {
		b = newBucket(c, c.global, hash, major)
		s.buckets[id] = b
		c.metrics.Buckets.Inc()
	}
	b.pending.Add(1)
	return b
}

// setHash records that the server now serves route from hash.
func (c *Client) setHash(ctx context.Context, route RouteData, from, to string) {
	c.debug(fmt.Sprintf("bucket hash update: %s -> %s for %s", from, to, route.ID))
	err := c.store.Set(ctx, route.ID, store.Entry{Hash: to, LastAccess: time.Now()})
	if err != nil {
		c.logger.Warn("route hash update failed", "route", route.ID, "hash", to, "error", err)
	}
}

func (c *Client) touchHash(ctx context.Context, route RouteData) {
	if err := c.store.Touch(ctx, route.ID, time.Now()); err != nil {
		c.logger.Warn("route hash touch failed", "route", route.ID, "error", err)
	}
}

// BucketStatus is a point-in-time view of one bucket.
type BucketStatus struct {
	ID             string
	Hash           string
	MajorParameter string
	Limit          int
	Remaining      int
	Reset          time.Time
	Queued         int
}

// Snapshot is a point-in-time view of the client's rate limit state.
type Snapshot struct {
	Buckets       []BucketStatus
	GlobalBlocked bool
	GlobalReset   time.Time
}

// Snapshot returns the state of every live bucket, sorted by id, and of the
// global limit.
func (c *Client) Snapshot() Snapshot {
	var snap Snapshot
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, b := range s.buckets {
			snap.Buckets = append(snap.Buckets, b.status())
		}
		s.mu.Unlock()
	}
	sort.Slice(snap.Buckets, func(i, j int) bool {
		return snap.Buckets[i].ID < snap.Buckets[j].ID
	})
	snap.GlobalReset, snap.GlobalBlocked = c.global.limited(time.Now())
	return snap
}

// Close stops the sweepers and closes the hash store. Requests in flight are
// not interrupted.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
	return c.store.Close()
}

func (c *Client) debug(line string) {
	c.logger.Debug(line)
	if c.onDebug != nil {
		c.onDebug(line)
	}
}

func (c *Client) rateLimited(data RateLimitData) {
	scope := data.Scope
	if scope == "" {
		scope = "bucket"
		if data.Global {
			scope = ScopeGlobal
		}
	}
	c.metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
	c.logger.Debug("rate limited",
		"method", data.Method,
		"route", data.Route,
		"global", data.Global,
		"scope", data.Scope,
		"timeout", data.Timeout)
	if c.onRateLimit != nil {
		c.onRateLimit(data)
	}
}

// recordInvalid counts 401, 403 and non-shared 429 responses.
func (c *Client) recordInvalid(status int, scope string) {
	if !isInvalidStatus(status, scope) {
		return
	}
	count, remaining := c.invalid.record(time.Now())
	if c.invalidInterval <= 0 || count%c.invalidInterval != 0 {
		return
	}
	c.logger.Warn("invalid request threshold", "count", count, "window_remaining", remaining)
	if c.onInvalid != nil {
		c.onInvalid(InvalidRequestWarning{Count: count, RemainingTime: remaining})
	}
}

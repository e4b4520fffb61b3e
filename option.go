package restlimit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ryhazerus/restlimit/store"
	"go.opentelemetry.io/otel/trace"
)

// Option configures the Client.
type Option func(*Client)

// WithBaseURL sets the API root, without the version segment.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithVersion sets the API version appended to the base URL as "/v{n}".
// Zero omits the version segment.
func WithVersion(n int) Option {
	return func(c *Client) {
		c.version = n
	}
}

// WithToken sets the credential sent on authenticated requests.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithAuthPrefix sets the scheme placed before the token in the
// Authorization header (default "Bot"). An empty prefix sends the bare token.
func WithAuthPrefix(prefix string) Option {
	return func(c *Client) {
		c.authPrefix = prefix
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets the client used for every attempt. Its Timeout should
// be left at zero; per attempt timeouts come from WithRequestTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTransport wraps base in a fresh http.Client.
func WithTransport(base http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Transport: base}
	}
}

// WithRequestTimeout bounds each network attempt (default 15s).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithRetryLimit sets how many times a request is retried after transport
// failures or 5xx responses (default 3). Rate limited requests are retried
// regardless.
func WithRetryLimit(n int) Option {
	return func(c *Client) {
		c.retryLimit = n
	}
}

// WithRateLimiterOffset adds d to every server-declared delay and reset, to
// absorb latency between the server's clock and ours.
func WithRateLimiterOffset(d time.Duration) Option {
	return func(c *Client) {
		c.offset = d
	}
}

// WithGlobalRequestsPerSecond throttles the whole client to n requests per
// second before the server has to. Zero disables the throttle.
func WithGlobalRequestsPerSecond(n int) Option {
	return func(c *Client) {
		c.globalPerSecond = n
	}
}

// WithStore sets the route hash cache. If not provided, an in-memory store
// is used. The Client closes the store on Close.
func WithStore(s store.Store) Option {
	return func(c *Client) {
		c.store = s
	}
}

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics registers the client's Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetrics(reg)
	}
}

// WithTracerProvider sets the OpenTelemetry provider for attempt spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithResponseListener is called after every attempt that got a response.
// Response bodies are only copied when a listener is set.
func WithResponseListener(fn func(ResponseEvent)) Option {
	return func(c *Client) {
		c.onResponse = fn
	}
}

// WithDebugListener receives one human readable line per completed attempt
// and per bucket hash change.
func WithDebugListener(fn func(string)) Option {
	return func(c *Client) {
		c.onDebug = fn
	}
}

// WithRateLimitListener is called whenever a request hits or waits out a
// rate limit.
func WithRateLimitListener(fn func(RateLimitData)) Option {
	return func(c *Client) {
		c.onRateLimit = fn
	}
}

// WithInvalidRequestWarning calls fn every interval invalid (401, 403, 429)
// responses within the ten minute window.
func WithInvalidRequestWarning(interval int, fn func(InvalidRequestWarning)) Option {
	return func(c *Client) {
		c.invalidInterval = interval
		c.onInvalid = fn
	}
}

// WithRejectOnRateLimit makes requests fail with *RateLimitError instead of
// waiting whenever reject returns true for the limit they ran into.
func WithRejectOnRateLimit(reject func(RateLimitData) bool) Option {
	return func(c *Client) {
		c.rejectOnRateLimit = reject
	}
}

// WithHashSweep removes cached route hashes unused for lifetime, checking
// every interval (default 4h and 24h). A zero interval disables the sweep.
func WithHashSweep(interval, lifetime time.Duration) Option {
	return func(c *Client) {
		c.hashSweepInterval = interval
		c.hashLifetime = lifetime
	}
}

// WithBucketSweep drops idle buckets every interval (default 1h). A zero
// interval disables the sweep.
func WithBucketSweep(interval time.Duration) Option {
	return func(c *Client) {
		c.bucketSweepInterval = interval
	}
}

package restlimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryhazerus/restlimit/internal/queue"
)

// reactionResetDelay is the minimum spacing between reaction writes on one
// bucket. A later header-derived reset always wins.
const reactionResetDelay = 250 * time.Millisecond

// minRetryDelay is the wait after a 429 that declares no delay at all.
const minRetryDelay = time.Second

// bucket serialises every request the server groups under one hash and
// major parameter, and tracks that group's limit. Its identity never
// changes; a hash reassignment routes later requests to a different bucket.
type bucket struct {
	id    string
	hash  string
	major string

	client *Client
	global *globalState

	queue   queue.Mutex
	pending atomic.Int32

	mu        sync.Mutex
	limit     int
	remaining int
	reset     time.Time
}

func newBucket(c *Client, g *globalState, hash, major string) *bucket {
	return &bucket{
		id:        hash + ":" + major,
		hash:      hash,
		major:     major,
		client:    c,
		global:    g,
		limit:     1,
		remaining: 1,
	}
}

// add queues r behind every earlier request of this bucket (or ahead of
// them when front is set) and runs it once it reaches the head. The lock is
// released on every return path.
func (b *bucket) add(ctx context.Context, r *request, front bool) (json.RawMessage, error) {
	defer b.pending.Add(-1)

	release, err := b.queue.Acquire(ctx, front)
	if err != nil {
		return nil, fmt.Errorf("restlimit: %s %s: %w", r.method, r.path, err)
	}
	defer release()

	return b.execute(ctx, r)
}

// limited reports whether the bucket's window is exhausted at now, and how
// long until it refreshes.
func (b *bucket) limited(now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 && now.Before(b.reset) {
		return b.reset.Sub(now), true
	}
	return 0, false
}

// inactive reports whether the sweeper may drop the bucket.
func (b *bucket) inactive(now time.Time) bool {
	if b.pending.Load() > 0 || !b.queue.Idle() {
		return false
	}
	if _, limited := b.limited(now); limited {
		return false
	}
	_, globalLimited := b.global.limited(now)
	return !globalLimited
}

func (b *bucket) status() BucketStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BucketStatus{
		ID:             b.id,
		Hash:           b.hash,
		MajorParameter: b.major,
		Limit:          b.limit,
		Remaining:      b.remaining,
		Reset:          b.reset,
		Queued:         b.queue.Len(),
	}
}

// execute runs the attempt loop for r. The caller holds the bucket lock.
func (b *bucket) execute(ctx context.Context, r *request) (json.RawMessage, error) {
	c := b.client
	attempts := 0

	for {
		if err := b.waitTurn(ctx, r); err != nil {
			return nil, err
		}

		resp, body, latency, err := b.send(ctx, r, attempts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("restlimit: %s %s: %w", r.method, r.path, ctx.Err())
			}
			if attempts < c.retryLimit {
				attempts++
				c.metrics.RetriesTotal.WithLabelValues("transport").Inc()
				continue
			}
			if isTimeout(err) {
				return nil, &TimeoutError{
					Method:   r.method,
					Path:     r.path,
					Timeout:  c.requestTimeout,
					Attempts: attempts + 1,
					Err:      err,
					site:     r.site,
				}
			}
			return nil, err
		}

		rl := b.handle(ctx, r, resp, body, latency)
		status := resp.StatusCode

		switch {
		case status >= 200 && status < 300:
			if !isJSON(resp.Header) {
				return nil, nil
			}
			if !json.Valid(body) {
				return nil, fmt.Errorf("restlimit: %s %s: response is not valid JSON", r.method, r.path)
			}
			return json.RawMessage(body), nil

		case status == http.StatusTooManyRequests:
			if err := b.rateLimitedResponse(ctx, r, rl, body); err != nil {
				return nil, err
			}
			// Same attempt count: rate limits are never charged against the
			// retry limit.
			continue

		case status >= 400 && status < 500:
			return nil, newRESTError(r, status, body)

		case status >= 500 && status < 600:
			if attempts < c.retryLimit {
				attempts++
				c.metrics.RetriesTotal.WithLabelValues("server").Inc()
				continue
			}
			return nil, &HTTPError{
				Method:   r.method,
				Path:     r.path,
				Status:   status,
				Attempts: attempts + 1,
				site:     r.site,
			}

		default:
			return nil, nil
		}
	}
}

// waitTurn blocks until neither the global nor the bucket limit is in force.
// Each pass either attaches to the shared global wait or sleeps until this
// bucket's reset; nothing polls.
func (b *bucket) waitTurn(ctx context.Context, r *request) error {
	c := b.client
	for {
		now := time.Now()
		if reset, limited := b.global.limited(now); limited {
			data := b.rateLimitData(r, reset.Sub(now), true, "")
			if err := c.checkReject(r, data); err != nil {
				return err
			}
			c.rateLimited(data)
			c.metrics.GlobalBlocked.Set(1)
			if err := b.global.wait(ctx); err != nil {
				return fmt.Errorf("restlimit: %s %s: %w", r.method, r.path, err)
			}
			continue
		}
		if wait, limited := b.limited(now); limited {
			data := b.rateLimitData(r, wait, false, "")
			if err := c.checkReject(r, data); err != nil {
				return err
			}
			c.rateLimited(data)
			if err := queue.Sleep(ctx, wait); err != nil {
				return fmt.Errorf("restlimit: %s %s: %w", r.method, r.path, err)
			}
			continue
		}
		break
	}

	b.global.settle(time.Now())
	c.metrics.GlobalBlocked.Set(0)
	if err := b.global.take(ctx); err != nil {
		return fmt.Errorf("restlimit: %s %s: %w", r.method, r.path, err)
	}
	return nil
}

// send performs one network attempt under the per-attempt timeout and reads
// the whole body before the timeout is released.
func (b *bucket) send(ctx context.Context, r *request, attempt int) (*http.Response, []byte, time.Duration, error) {
	c := b.client

	ctx, span := c.startAttempt(ctx, r, b, attempt)
	actx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.httpRequest(actx, r)
	if err != nil {
		endAttempt(span, nil, err)
		return nil, nil, 0, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		endAttempt(span, nil, err)
		return nil, nil, time.Since(start), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		endAttempt(span, nil, err)
		return nil, nil, latency, err
	}
	endAttempt(span, resp, nil)

	c.metrics.RequestsTotal.WithLabelValues(r.method, strconv.Itoa(resp.StatusCode)).Inc()
	c.metrics.RequestDuration.WithLabelValues(r.method).Observe(latency.Seconds())
	return resp, body, latency, nil
}

// handle folds the response's rate limit headers into bucket, cache and
// global state, then reports the attempt to listeners.
func (b *bucket) handle(ctx context.Context, r *request, resp *http.Response, body []byte, latency time.Duration) rateLimitHeaders {
	c := b.client
	rl := parseRateLimitHeaders(resp.Header)
	now := time.Now()

	if rl.bucket != "" && rl.bucket != b.hash {
		c.setHash(ctx, r.route, b.hash, rl.bucket)
	} else if rl.bucket != "" {
		c.touchHash(ctx, r.route)
	}

	b.mu.Lock()
	if rl.hasLimit {
		b.limit = rl.limit
	}
	b.remaining = rl.remaining
	// A global response's delay belongs to the global state only.
	if !rl.global {
		switch {
		case rl.hasResetAfter:
			b.reset = now.Add(rl.resetAfter + c.offset)
		case rl.hasReset:
			b.reset = rl.localReset(now, latency).Add(c.offset)
		default:
			b.reset = now
		}
		if isReactionWrite(r) {
			if floor := now.Add(reactionResetDelay + c.offset); b.reset.Before(floor) {
				b.reset = floor
			}
		}
	}
	limit, remaining, reset := b.limit, b.remaining, b.reset
	b.mu.Unlock()

	// A global 429 is applied by rateLimitedResponse, where the body's
	// retry_after takes priority over these headers.
	if rl.global && resp.StatusCode != http.StatusTooManyRequests {
		if d, ok := rl.delay(); ok {
			b.global.block(now.Add(d + c.offset))
		}
	}

	c.recordInvalid(resp.StatusCode, rl.scope)

	c.debug(fmt.Sprintf("[%s] %s %s -> %d in %s | remaining %d/%d | reset in %s | request %s",
		b.id, r.method, r.path, resp.StatusCode, latency.Round(time.Millisecond),
		remaining, limit, maxDuration(reset.Sub(now), 0).Round(time.Millisecond), r.id))

	if c.onResponse != nil {
		c.onResponse(ResponseEvent{
			RequestID:    r.id,
			Method:       r.method,
			Path:         r.path,
			Route:        r.route.ID,
			Auth:         r.auth(),
			Body:         r.opts.Body,
			Files:        r.fileNames(),
			StatusCode:   resp.StatusCode,
			Header:       resp.Header.Clone(),
			ResponseBody: append([]byte(nil), body...),
			Latency:      latency,
		})
	}
	return rl
}

// retryAfter is the wait a 429 asks for and whether it is global. The body's
// retry_after wins over the headers. With neither, the bucket's own reset is
// used, but never less than minRetryDelay.
func (b *bucket) retryAfter(rl rateLimitHeaders, body []byte, now time.Time) (time.Duration, bool) {
	delay, bodyGlobal, ok := bodyRetryAfter(body)
	global := rl.global || bodyGlobal || rl.scope == ScopeGlobal
	if !ok {
		delay, ok = rl.delay()
	}
	if !ok {
		// The bucket reset already carries the offset.
		b.mu.Lock()
		defer b.mu.Unlock()
		return maxDuration(b.reset.Sub(now), minRetryDelay), global
	}
	return delay + b.client.offset, global
}

// rateLimitedResponse waits out a 429. A global 429 parks every bucket on
// the shared global wait instead of sleeping here.
func (b *bucket) rateLimitedResponse(ctx context.Context, r *request, rl rateLimitHeaders, body []byte) error {
	c := b.client

	now := time.Now()
	delay, global := b.retryAfter(rl, body, now)

	data := b.rateLimitData(r, delay, global, rl.scope)
	if rl.hasLimit {
		data.Limit = rl.limit
	}
	if err := c.checkReject(r, data); err != nil {
		return err
	}
	c.rateLimited(data)
	c.metrics.RetriesTotal.WithLabelValues("rate_limit").Inc()

	if global {
		b.global.block(now.Add(delay))
		return nil
	}
	if err := queue.Sleep(ctx, delay); err != nil {
		return fmt.Errorf("restlimit: %s %s: %w", r.method, r.path, err)
	}
	return nil
}

func (b *bucket) rateLimitData(r *request, timeout time.Duration, global bool, scope string) RateLimitData {
	b.mu.Lock()
	limit := b.limit
	b.mu.Unlock()
	return RateLimitData{
		Timeout: timeout,
		Limit:   limit,
		Method:  r.method,
		Path:    r.path,
		Route:   r.route.ID,
		Global:  global,
		Scope:   scope,
	}
}

// isReactionWrite reports whether r adds or removes a reaction.
func isReactionWrite(r *request) bool {
	return r.method != http.MethodGet && strings.Contains(r.route.Route, "/reactions/:reaction")
}

func (c *Client) checkReject(r *request, data RateLimitData) error {
	if c.rejectOnRateLimit == nil || !c.rejectOnRateLimit(data) {
		return nil
	}
	return &RateLimitError{RateLimitData: data, site: r.site}
}

func newRESTError(r *request, status int, body []byte) *RESTError {
	e := &RESTError{
		Method: r.method,
		Path:   r.path,
		Status: status,
		Body:   body,
		site:   r.site,
	}
	var payload map[string]any
	if json.Unmarshal(body, &payload) == nil {
		e.Payload = payload
		if code, ok := payload["code"].(float64); ok {
			e.Code = int(code)
		}
		if msg, ok := payload["message"].(string); ok {
			e.Message = msg
		}
	}
	return e
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

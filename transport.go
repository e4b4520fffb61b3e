package restlimit

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// transport implements http.RoundTripper for callers that need raw responses.
// Requests wait on the same buckets and global limit as Client.Request and
// their responses update them, but nothing is retried: a 429 is returned
// to the caller as is.
type transport struct {
	client *Client
	base   http.RoundTripper
}

// Transport returns an http.RoundTripper sharing this client's rate limit
// state. Requests outside the client's base URL pass straight through to
// base.
func (c *Client) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{client: c, base: base}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	c := t.client
	path, ok := c.apiPath(req.URL)
	if !ok {
		return t.base.RoundTrip(req)
	}
	ctx := req.Context()

	route := routeFor(req.Method, path, time.Now())
	b := c.bucketFor(c.hashFor(ctx, route), route.MajorParameter)
	defer b.pending.Add(-1)

	release, err := b.queue.Acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer release()

	r := &request{
		id:     uuid.NewString(),
		method: strings.ToUpper(req.Method),
		path:   path,
		route:  route,
		opts:   RequestOptions{NoAuth: req.Header.Get("Authorization") == ""},
	}
	if err := b.waitTurn(ctx, r); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("restlimit: read response: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	c.metrics.RequestsTotal.WithLabelValues(r.method, strconv.Itoa(resp.StatusCode)).Inc()
	c.metrics.RequestDuration.WithLabelValues(r.method).Observe(latency.Seconds())

	rl := b.handle(ctx, r, resp, body, latency)
	if resp.StatusCode == http.StatusTooManyRequests {
		now := time.Now()
		if delay, global := b.retryAfter(rl, body, now); global {
			b.global.block(now.Add(delay))
		}
	}
	return resp, nil
}

// apiPath returns u's path relative to the versioned base URL.
func (c *Client) apiPath(u *url.URL) (string, bool) {
	base, err := url.Parse(c.endpoint("/"))
	if err != nil || !strings.EqualFold(base.Host, u.Host) {
		return "", false
	}
	prefix := strings.TrimRight(base.Path, "/")
	if !strings.HasPrefix(u.Path, prefix+"/") {
		return "", false
	}
	return strings.TrimPrefix(u.Path, prefix), true
}

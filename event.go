package restlimit

import (
	"net/http"
	"sync"
	"time"
)

// ResponseEvent describes one completed attempt. It is only built when a
// response listener is registered.
type ResponseEvent struct {
	RequestID string
	Method    string
	Path      string
	Route     string
	Auth      bool

	// Body and Files are what was sent.
	Body  any
	Files []string

	StatusCode   int
	Header       http.Header
	ResponseBody []byte
	Latency      time.Duration
}

// RateLimitData describes a limit a request ran into, either announced by a
// 429 or observed before sending.
type RateLimitData struct {
	Timeout time.Duration
	Limit   int
	Method  string
	Path    string
	Route   string
	Global  bool

	// Scope is the X-RateLimit-Scope of a 429, empty for limits observed
	// before sending.
	Scope string
}

// InvalidRequestWarning reports how many 401, 403 and 429 responses the
// client received in the current ten minute window. The server bans
// credentials that exceed its invalid request threshold.
type InvalidRequestWarning struct {
	Count         int
	RemainingTime time.Duration
}

const invalidRequestWindow = 10 * time.Minute

// invalidRequests counts invalid responses in fixed ten minute windows.
type invalidRequests struct {
	mu    sync.Mutex
	count int
	reset time.Time
}

// record counts one invalid response and reports the running total and the
// time left in the window.
func (v *invalidRequests) record(now time.Time) (int, time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !now.Before(v.reset) {
		v.reset = now.Add(invalidRequestWindow)
		v.count = 0
	}
	v.count++
	return v.count, v.reset.Sub(now)
}

func isInvalidStatus(status int, scope string) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusTooManyRequests:
		return scope != ScopeShared
	}
	return false
}

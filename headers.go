package restlimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Rate limit response headers.
const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerResetAfter = "X-RateLimit-Reset-After"
	headerBucket     = "X-RateLimit-Bucket"
	headerGlobal     = "X-RateLimit-Global"
	headerScope      = "X-RateLimit-Scope"
	headerRetryAfter = "Retry-After"
)

// Values of X-RateLimit-Scope.
const (
	ScopeUser   = "user"
	ScopeGlobal = "global"
	ScopeShared = "shared"
)

// rateLimitHeaders is the server's bookkeeping for one response. Absent
// headers leave their has* flag false.
type rateLimitHeaders struct {
	limit    int
	hasLimit bool

	remaining int

	reset    time.Time
	hasReset bool

	resetAfter    time.Duration
	hasResetAfter bool

	retryAfter    time.Duration
	hasRetryAfter bool

	bucket string
	global bool
	scope  string

	date    time.Time
	hasDate bool
}

func parseRateLimitHeaders(h http.Header) rateLimitHeaders {
	var rl rateLimitHeaders

	if n, err := strconv.Atoi(h.Get(headerLimit)); err == nil {
		rl.limit, rl.hasLimit = n, true
	}

	rl.remaining = 1
	if n, err := strconv.Atoi(h.Get(headerRemaining)); err == nil {
		rl.remaining = n
	}

	if secs, ok := parseSeconds(h.Get(headerReset)); ok {
		rl.reset, rl.hasReset = time.UnixMilli(int64(math.Round(secs*1000))), true
	}
	if secs, ok := parseSeconds(h.Get(headerResetAfter)); ok {
		rl.resetAfter, rl.hasResetAfter = secondsToDuration(secs), true
	}
	if secs, ok := parseSeconds(h.Get(headerRetryAfter)); ok {
		rl.retryAfter, rl.hasRetryAfter = secondsToDuration(secs), true
	}

	rl.bucket = h.Get(headerBucket)
	rl.global = strings.EqualFold(h.Get(headerGlobal), "true")
	rl.scope = h.Get(headerScope)

	if d, err := http.ParseTime(h.Get("Date")); err == nil {
		rl.date, rl.hasDate = d, true
	}
	return rl
}

// delay is the server-declared wait, preferring Retry-After over
// X-RateLimit-Reset-After.
func (rl rateLimitHeaders) delay() (time.Duration, bool) {
	switch {
	case rl.hasRetryAfter:
		return rl.retryAfter, true
	case rl.hasResetAfter:
		return rl.resetAfter, true
	}
	return 0, false
}

// localReset converts the absolute X-RateLimit-Reset into local clock time.
// The server's Date header is compared with the local time at the midpoint
// of the round trip to estimate the skew between the two clocks.
func (rl rateLimitHeaders) localReset(received time.Time, latency time.Duration) time.Time {
	if !rl.hasDate {
		return rl.reset
	}
	skew := rl.date.Sub(received.Add(-latency / 2))
	return rl.reset.Add(-skew)
}

func parseSeconds(v string) (float64, bool) {
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// bodyRetryAfter extracts retry_after (seconds) and the global flag from a
// 429 JSON body.
func bodyRetryAfter(body []byte) (d time.Duration, global bool, ok bool) {
	var payload struct {
		RetryAfter *float64 `json:"retry_after"`
		Global     bool     `json:"global"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.RetryAfter == nil {
		return 0, false, false
	}
	if *payload.RetryAfter < 0 {
		return 0, false, false
	}
	return secondsToDuration(*payload.RetryAfter), payload.Global, true
}

func isJSON(h http.Header) bool {
	return strings.HasPrefix(strings.ToLower(h.Get("Content-Type")), "application/json")
}

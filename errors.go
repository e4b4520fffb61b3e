package restlimit

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// ErrTimeout is matched by errors returned when a request kept timing out
// until the retry limit was exhausted.
var ErrTimeout = errors.New("restlimit: request timed out")

// ErrTokenMissing is returned when an authenticated request is made by a
// client configured without a token.
var ErrTokenMissing = errors.New("restlimit: token required for authenticated request")

// ErrRateLimited is matched by *RateLimitError.
var ErrRateLimited = errors.New("restlimit: rate limited")

// callSite is the stack of the goroutine that called Client.Request. The
// bucket loop runs far from the caller, so errors carry this instead of
// their own stack.
type callSite []uintptr

func captureCallSite() callSite {
	pcs := make([]uintptr, 32)
	// Skip runtime.Callers, captureCallSite and Client.Request.
	n := runtime.Callers(3, pcs)
	return callSite(pcs[:n])
}

func (c callSite) String() string {
	if len(c) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(c)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// RESTError is returned when the server processed the request and rejected
// it with a 4xx status other than 429. It is never retried.
type RESTError struct {
	Method string
	Path   string
	Status int

	// Code and Message are lifted from the error payload when present.
	Code    int
	Message string

	// Payload is the decoded JSON error body, verbatim. It is nil when the
	// body was not JSON; Body always holds the raw bytes.
	Payload map[string]any
	Body    []byte

	site callSite
}

func (e *RESTError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != 0 {
		return fmt.Sprintf("restlimit: %s %s rejected: %d %s (code %d)", e.Method, e.Path, e.Status, msg, e.Code)
	}
	return fmt.Sprintf("restlimit: %s %s rejected: %d %s", e.Method, e.Path, e.Status, msg)
}

// Stack returns the call site that issued the request.
func (e *RESTError) Stack() string {
	return e.site.String()
}

// HTTPError is returned when the server kept failing with a 5xx status until
// the retry limit was exhausted.
type HTTPError struct {
	Method   string
	Path     string
	Status   int
	Attempts int

	site callSite
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("restlimit: %s %s failed after %d attempts: %d %s",
		e.Method, e.Path, e.Attempts, e.Status, http.StatusText(e.Status))
}

// Stack returns the call site that issued the request.
func (e *HTTPError) Stack() string {
	return e.site.String()
}

// TimeoutError is returned when every attempt of a request timed out. It
// matches ErrTimeout and the last transport error.
type TimeoutError struct {
	Method   string
	Path     string
	Timeout  time.Duration
	Attempts int
	Err      error

	site callSite
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("restlimit: %s %s timed out after %d attempts (timeout %s)",
		e.Method, e.Path, e.Attempts, e.Timeout)
}

func (e *TimeoutError) Unwrap() []error {
	return []error{ErrTimeout, e.Err}
}

// Stack returns the call site that issued the request.
func (e *TimeoutError) Stack() string {
	return e.site.String()
}

// RateLimitError is returned instead of waiting when the client was built
// with WithRejectOnRateLimit and the predicate matched the limit.
type RateLimitError struct {
	RateLimitData

	site callSite
}

func (e *RateLimitError) Error() string {
	scope := "bucket"
	if e.Global {
		scope = "global"
	}
	return fmt.Sprintf("restlimit: rate limited on %s %s (%s), retry in %s",
		e.Method, e.Path, scope, e.Timeout)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// Stack returns the call site that issued the request.
func (e *RateLimitError) Stack() string {
	return e.site.String()
}

// Package restlimit is a rate-limit-aware dispatcher for a JSON over HTTP API
// that enforces a global request ceiling per credential and thousands of
// per-route limits ("buckets") whose identity the server can reassign at any
// time through the X-RateLimit-Bucket header.
//
// # Key Concepts
//
//   - A route is the method, the path with ids replaced by placeholders, and
//     the major parameter (the guild, channel or webhook id the server
//     partitions limits by). See [RouteData].
//   - A bucket is the server's group of routes sharing one limit. Every request
//     to a bucket runs strictly one at a time, in submission order, unless
//     [RequestOptions].Front asks to jump the line.
//   - The hash cache remembers which bucket each route was last assigned to.
//     It lives in a [store.Store]; an in-memory store is used by default and
//     SQLite or Redis backends keep it across restarts.
//   - The global limit blocks every bucket at once. However many requests are
//     blocked, they all wait on a single shared timer.
//
// # Errors
//
// A 4xx other than 429 returns [*RESTError] carrying the decoded payload. A
// 5xx after the retry limit returns [*HTTPError]; attempts that kept timing
// out return [*TimeoutError], which matches [ErrTimeout]. A 429 is waited out
// and retried without counting against the retry limit.
//
// # Quick Start
//
//	client := restlimit.New(
//		restlimit.WithToken(os.Getenv("API_TOKEN")),
//		restlimit.WithRetryLimit(3),
//	)
//	defer client.Close()
//
//	var msg struct{ ID string `json:"id"` }
//	err := client.Do(ctx, http.MethodPost, "/channels/123456789012345678/messages",
//		restlimit.RequestOptions{Body: map[string]string{"content": "hi"}}, &msg)
//
// See the [Client] documentation for the full API.
package restlimit

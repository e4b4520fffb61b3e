package restlimit

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RouteData identifies the family of calls that share one rate limit.
type RouteData struct {
	// ID is the method and normalised route, e.g. "GET:/channels/:id/messages".
	// It keys the hash cache.
	ID string

	// Route is the path with snowflakes and tokens replaced by placeholders.
	Route string

	// MajorParameter is the guild, channel or webhook id the server uses to
	// partition otherwise identical routes, or "global".
	MajorParameter string
}

const globalMajor = "global"

// snowflakeEpoch is the first millisecond of 2015, the epoch of server ids.
const snowflakeEpoch = 1420070400000

// oldMessageAge is the age past which single message deletes are bucketed
// separately from recent ones.
const oldMessageAge = 14 * 24 * time.Hour

var (
	majorRe       = regexp.MustCompile(`^/(?:channels|guilds|webhooks)/(\d{16,19})`)
	snowflakeRe   = regexp.MustCompile(`\d{16,19}`)
	reactionRe    = regexp.MustCompile(`/reactions/(.*)`)
	interactionRe = regexp.MustCompile(`^/interactions/:id/[^/]+/callback$`)
	trailingIDRe  = regexp.MustCompile(`(\d{16,19})$`)
)

// routeFor normalises a request path into its route data. Query strings are
// never part of the route.
func routeFor(method, path string, now time.Time) RouteData {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	method = strings.ToUpper(method)

	major := globalMajor
	if m := majorRe.FindStringSubmatch(path); m != nil {
		major = m[1]
	}

	route := snowflakeRe.ReplaceAllString(path, ":id")
	route = reactionRe.ReplaceAllString(route, "/reactions/:reaction")
	if interactionRe.MatchString(route) {
		route = "/interactions/:id/:token/callback"
	}

	if method == "DELETE" && route == "/channels/:id/messages/:id" {
		if m := trailingIDRe.FindString(path); m != "" && isOlderThan(m, oldMessageAge, now) {
			route += "/delete-old"
		}
	}

	return RouteData{
		ID:             method + ":" + route,
		Route:          route,
		MajorParameter: major,
	}
}

// isOlderThan reports whether the snowflake id was minted more than age
// before now.
func isOlderThan(id string, age time.Duration, now time.Time) bool {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return false
	}
	created := time.UnixMilli(int64(n>>22) + snowflakeEpoch)
	return now.Sub(created) > age
}

package restlimit

import (
	"strconv"
	"testing"
	"time"
)

func snowflakeAt(t time.Time) string {
	return strconv.FormatUint(uint64(t.UnixMilli()-snowflakeEpoch)<<22, 10)
}

func TestRouteFor(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	oldMsg := snowflakeAt(now.Add(-15 * 24 * time.Hour))
	newMsg := snowflakeAt(now.Add(-time.Hour))

	tests := []struct {
		method    string
		path      string
		wantID    string
		wantMajor string
	}{
		{"GET", "/channels/123456789012345678/messages", "GET:/channels/:id/messages", "123456789012345678"},
		{"get", "/channels/123456789012345678/messages?limit=50", "GET:/channels/:id/messages", "123456789012345678"},
		{"PATCH", "/guilds/223456789012345678/members/323456789012345678", "PATCH:/guilds/:id/members/:id", "223456789012345678"},
		{"POST", "/webhooks/423456789012345678/some-token", "POST:/webhooks/:id/some-token", "423456789012345678"},
		{"GET", "/users/@me", "GET:/users/@me", "global"},
		{"GET", "/gateway/bot", "GET:/gateway/bot", "global"},
		{
			"PUT",
			"/channels/123456789012345678/messages/223456789012345678/reactions/%F0%9F%91%8D/@me",
			"PUT:/channels/:id/messages/:id/reactions/:reaction",
			"123456789012345678",
		},
		{
			"DELETE",
			"/channels/123456789012345678/messages/223456789012345678/reactions/name:323456789012345678",
			"DELETE:/channels/:id/messages/:id/reactions/:reaction",
			"123456789012345678",
		},
		{
			"POST",
			"/interactions/123456789012345678/aW50ZXJhY3Rpb246dG9rZW4/callback",
			"POST:/interactions/:id/:token/callback",
			"global",
		},
		{"DELETE", "/channels/123456789012345678/messages/" + oldMsg, "DELETE:/channels/:id/messages/:id/delete-old", "123456789012345678"},
		{"DELETE", "/channels/123456789012345678/messages/" + newMsg, "DELETE:/channels/:id/messages/:id", "123456789012345678"},
		{"GET", "/channels/123456789012345678/messages/" + oldMsg, "GET:/channels/:id/messages/:id", "123456789012345678"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			got := routeFor(tt.method, tt.path, now)
			if got.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", got.ID, tt.wantID)
			}
			if got.MajorParameter != tt.wantMajor {
				t.Errorf("MajorParameter = %q, want %q", got.MajorParameter, tt.wantMajor)
			}
		})
	}
}

func TestRouteForQueryDoesNotSplitBuckets(t *testing.T) {
	now := time.Now()
	a := routeFor("GET", "/channels/123456789012345678/messages?before=1", now)
	b := routeFor("GET", "/channels/123456789012345678/messages?after=2&limit=10", now)
	if a != b {
		t.Errorf("routes differ: %+v vs %+v", a, b)
	}
}

func TestIsOlderThan(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if !isOlderThan(snowflakeAt(now.Add(-30*24*time.Hour)), oldMessageAge, now) {
		t.Error("30 day old id not reported old")
	}
	if isOlderThan(snowflakeAt(now.Add(-13*24*time.Hour)), oldMessageAge, now) {
		t.Error("13 day old id reported old")
	}
	if isOlderThan("not-a-number", oldMessageAge, now) {
		t.Error("garbage id reported old")
	}
}

package restlimit

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ryhazerus/restlimit/store"
	"go.uber.org/goleak"
)

func TestSweepBuckets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v10/gateway" {
			w.Header().Set(headerRemaining, "0")
			w.Header().Set(headerResetAfter, "10")
		}
		w.WriteHeader(http.StatusNoContent)
	}, WithMetrics(prometheus.NewRegistry()), WithBucketSweep(0))

	ctx := context.Background()
	for _, p := range []string{"/gateway", "/users/@me"} {
		if _, err := c.Get(ctx, p, RequestOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Now()
	if got := c.sweepBuckets(now); got != 1 {
		t.Errorf("swept %d buckets, want 1 (only the idle one)", got)
	}
	if got := testutil.ToFloat64(c.metrics.Buckets); got != 1 {
		t.Errorf("buckets gauge = %v, want 1", got)
	}
	if got := c.sweepBuckets(now.Add(11 * time.Second)); got != 1 {
		t.Errorf("swept %d buckets after reset, want 1", got)
	}
	if n := len(c.Snapshot().Buckets); n != 0 {
		t.Errorf("buckets left = %d", n)
	}
}

func TestSweepSkipsPendingBucket(t *testing.T) {
	c := New(WithLogger(slog.New(slog.DiscardHandler)), WithBucketSweep(0))
	defer c.Close()

	b := c.bucketFor("h", globalMajor)
	if got := c.sweepBuckets(time.Now()); got != 0 {
		t.Errorf("swept %d buckets while one was pending", got)
	}
	b.pending.Add(-1)
	if got := c.sweepBuckets(time.Now()); got != 1 {
		t.Errorf("swept %d buckets, want 1", got)
	}
}

func TestSweepSkipsBucketsUnderGlobalLimit(t *testing.T) {
	c := New(WithLogger(slog.New(slog.DiscardHandler)), WithBucketSweep(0))
	defer c.Close()

	c.bucketFor("h", globalMajor).pending.Add(-1)
	now := time.Now()
	c.global.block(now.Add(time.Second))

	if got := c.sweepBuckets(now); got != 0 {
		t.Errorf("swept %d buckets under a global limit", got)
	}
}

func TestSweepHashes(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	s.Set(ctx, "GET:/a", store.Entry{Hash: "a", LastAccess: now.Add(-2 * time.Hour)})
	s.Set(ctx, "GET:/b", store.Entry{Hash: "b", LastAccess: now.Add(-time.Minute)})

	var lines []string
	c := New(
		WithStore(s),
		WithHashSweep(0, time.Hour),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithDebugListener(func(l string) { lines = append(lines, l) }),
	)
	defer c.Close()

	if got := c.sweepHashes(ctx, now); got != 1 {
		t.Errorf("swept %d hashes, want 1", got)
	}
	if s.Len() != 1 {
		t.Errorf("store len = %d, want 1", s.Len())
	}
	if len(lines) != 1 {
		t.Errorf("debug lines = %q", lines)
	}
}

func TestSweepersStopOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := store.NewMemoryStore()
	s.Set(context.Background(), "GET:/old", store.Entry{Hash: "x", LastAccess: time.Now().Add(-time.Hour)})

	c := New(
		WithStore(s),
		WithHashSweep(5*time.Millisecond, time.Minute),
		WithBucketSweep(5*time.Millisecond),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	c.bucketFor("h", globalMajor).pending.Add(-1)

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 || len(c.Snapshot().Buckets) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweepers never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	// Close is idempotent.
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

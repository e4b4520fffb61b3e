package restlimit

import (
	"context"
	"fmt"
	"time"
)

func (c *Client) startSweepers() {
	if c.hashSweepInterval > 0 && c.hashLifetime > 0 {
		c.runEvery(c.hashSweepInterval, func() {
			c.sweepHashes(context.Background(), time.Now())
		})
	}
	if c.bucketSweepInterval > 0 {
		c.runEvery(c.bucketSweepInterval, func() {
			c.sweepBuckets(time.Now())
		})
	}
}

// runEvery calls fn on every tick until Close.
func (c *Client) runEvery(interval time.Duration, fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopChan:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// sweepHashes forgets route hashes unused for longer than the hash lifetime.
func (c *Client) sweepHashes(ctx context.Context, now time.Time) int {
	removed, err := c.store.Sweep(ctx, now.Add(-c.hashLifetime))
	if err != nil {
		c.logger.Warn("route hash sweep failed", "error", err)
		return 0
	}
	if removed > 0 {
		c.debug(fmt.Sprintf("swept %d stale route hashes", removed))
	}
	return removed
}

// sweepBuckets drops buckets with nothing queued and no limit in force. A
// bucket handed out by bucketFor stays pending until its request finishes,
// and pending is only raised under the shard lock held here.
func (c *Client) sweepBuckets(now time.Time) int {
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for id, b := range s.buckets {
			if b.inactive(now) {
				delete(s.buckets, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		c.metrics.Buckets.Sub(float64(removed))
		c.debug(fmt.Sprintf("swept %d idle buckets", removed))
	}
	return removed
}

package restlimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// globalState is the limit shared by every bucket of one credential. It is
// owned by a Client and handed to each bucket it creates.
type globalState struct {
	mu      sync.Mutex
	reset   time.Time
	blocked bool

	// wake is closed when the current global wait elapses. At most one is
	// live at a time; late arrivals attach to it.
	wake  chan struct{}
	waits int

	// throttle enforces an optional client-side requests-per-second ceiling
	// ahead of the server's. Nil when disabled.
	throttle *rate.Limiter
}

func newGlobalState(perSecond int) *globalState {
	g := &globalState{}
	if perSecond > 0 {
		g.throttle = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
	return g
}

// limited reports whether a global block is in force at now, and until when.
func (g *globalState) limited(now time.Time) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reset, g.blocked && now.Before(g.reset)
}

// block stops every bucket until the given time. An earlier until never
// shortens a block already in force.
func (g *globalState) block(until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.blocked || until.After(g.reset) {
		g.reset = until
	}
	g.blocked = true
}

// settle clears the block once its window has fully elapsed.
func (g *globalState) settle(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.blocked && !now.Before(g.reset) {
		g.blocked = false
	}
}

// wait blocks until the current global window elapses. The first caller
// arms the single shared timer; everyone else waits on the same channel.
func (g *globalState) wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.blocked || !time.Now().Before(g.reset) {
		g.mu.Unlock()
		return nil
	}
	if g.wake == nil {
		ch := make(chan struct{})
		g.wake = ch
		g.waits++
		time.AfterFunc(time.Until(g.reset), func() {
			g.mu.Lock()
			g.wake = nil
			g.mu.Unlock()
			close(ch)
		})
	}
	wake := g.wake
	g.mu.Unlock()

	select {
	case <-wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// take waits for a slot under the client-side per-second ceiling.
func (g *globalState) take(ctx context.Context) error {
	if g.throttle == nil {
		return nil
	}
	return g.throttle.Wait(ctx)
}

// waitCount returns how many shared waits have been armed.
func (g *globalState) waitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waits
}

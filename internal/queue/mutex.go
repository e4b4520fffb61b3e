// Package queue provides the binary lock that serialises every request
// routed to one rate limit bucket.
package queue

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Mutex is an exclusive lock with an ordered wait line. Waiters are granted
// the lock in the order they called Acquire, except that a caller may ask to
// be placed at the head of the line.
//
// The zero value is an unlocked Mutex.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	waiters list.List // of chan struct{}
}

// Acquire blocks until the caller holds the lock or ctx is done. When front
// is true the caller jumps ahead of every queued waiter.
//
// The returned release func hands the lock to the next waiter. Calling it
// more than once is a no-op.
func (m *Mutex) Acquire(ctx context.Context, front bool) (release func(), err error) {
	m.mu.Lock()
	if !m.locked && m.waiters.Len() == 0 {
		m.locked = true
		m.mu.Unlock()
		return m.releaser(), nil
	}

	ready := make(chan struct{})
	var elem *list.Element
	if front {
		elem = m.waiters.PushFront(ready)
	} else {
		elem = m.waiters.PushBack(ready)
	}
	m.mu.Unlock()

	select {
	case <-ready:
		return m.releaser(), nil
	case <-ctx.Done():
		m.mu.Lock()
		select {
		case <-ready:
			// Granted while cancelling; pass the lock on.
			m.mu.Unlock()
			m.releaser()()
		default:
			m.waiters.Remove(elem)
			m.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

func (m *Mutex) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(m.unlock)
	}
}

func (m *Mutex) unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	front := m.waiters.Front()
	if front == nil {
		m.locked = false
		return
	}
	m.waiters.Remove(front)
	// Ownership moves straight to the waiter; locked stays true.
	close(front.Value.(chan struct{}))
}

// Len reports the number of callers holding or waiting for the lock.
func (m *Mutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.waiters.Len()
	if m.locked {
		n++
	}
	return n
}

// Idle reports whether nobody holds or waits for the lock.
func (m *Mutex) Idle() bool {
	return m.Len() == 0
}

// Sleep blocks for d or until ctx is done. A non-positive d returns
// immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

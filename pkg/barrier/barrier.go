// Package barrier provides a counting barrier: a monotonically
// increasing completion counter that a coordinator can block on until
// a target number of acknowledged work units is reached.
//
// It replaces the fixed-interval poll loops that shared-counter
// barriers are typically built from: waiters block on a notification
// channel that is swapped out on every increment, so progress wakes
// them immediately and an idle barrier costs nothing.
package barrier

import (
	"context"
	"sync"
)

// Counter is a counting barrier. The zero value is not usable; create
// one with NewCounter. Add and Wait may be called from any goroutine.
type Counter struct {
	mu sync.Mutex
	n  int64
	ch chan struct{}
}

// NewCounter creates a barrier counter starting at zero.
func NewCounter() *Counter {
	return &Counter{ch: make(chan struct{})}
}

// Add acknowledges delta completed work units and wakes all waiters.
func (c *Counter) Add(delta int64) {
	c.mu.Lock()
	c.n += delta
	close(c.ch)
	c.ch = make(chan struct{})
	c.mu.Unlock()
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset sets the count back to zero and wakes all waiters.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.n = 0
	close(c.ch)
	c.ch = make(chan struct{})
	c.mu.Unlock()
}

// Wait blocks until the count reaches at least target, or ctx is done.
func (c *Counter) Wait(ctx context.Context, target int64) error {
	for {
		c.mu.Lock()
		if c.n >= target {
			c.mu.Unlock()
			return nil
		}
		ch := c.ch
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

package client

import (
	"context"
	"sync"
)

type refreshCall struct {
	done    chan struct{}
	ok      bool
	waiters int
}

// refreshGroup lets concurrent callers share a single in-flight token refresh.
// The in-flight call is installed under mu before any I/O starts and is removed
// before waiters are released, so a later 401 always starts a fresh refresh.
type refreshGroup struct {
	mu   sync.Mutex
	call *refreshCall
}

// do runs fn unless a refresh is already running, in which case it waits for
// that one. A waiter whose ctx ends gives up and reports failure.
func (g *refreshGroup) do(ctx context.Context, fn func() bool) bool {
	g.mu.Lock()
	if c := g.call; c != nil {
		c.waiters++
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.ok
		case <-ctx.Done():
			return false
		}
	}
	c := &refreshCall{done: make(chan struct{}), waiters: 1}
	g.call = c
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.call = nil
		g.mu.Unlock()
		close(c.done)
	}()

	c.ok = fn()
	return c.ok
}

func (g *refreshGroup) inFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.call != nil
}

// waiting reports how many callers share the current refresh, 0 if none.
func (g *refreshGroup) waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.call == nil {
		return 0
	}
	return g.call.waiters
}

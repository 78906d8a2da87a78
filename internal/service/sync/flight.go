package sync

import (
	"context"
	"sync"
)

// flightGroup collapses concurrent in-process calls for the same key
// into one execution: later callers block and receive the leader's
// result. The redis lease covers the cross-process case; this covers
// goroutines inside one process, where joining is cheaper than a
// conflict error.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

type flightCall struct {
	done   chan struct{}
	result Result
	err    error
}

func newFlightGroup() *flightGroup {
	return &flightGroup{calls: make(map[string]*flightCall)}
}

// do runs fn once per key at a time. Concurrent callers with the same key
// wait for the running call and share its result; ctx cancellation
// releases a waiter without affecting the leader.
func (g *flightGroup) do(ctx context.Context, key string, fn func() (Result, error)) (Result, bool, error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.result, true, c.err
		case <-ctx.Done():
			return Result{}, true, ctx.Err()
		}
	}

	c := &flightCall{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	// Release waiters even if fn panics; a leaked entry would block
	// every later caller for this key forever.
	defer func() {
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)
	}()

	c.result, c.err = fn()
	return c.result, false, c.err
}

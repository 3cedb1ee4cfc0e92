package engine

import "context"

// sessionGate serializes access per session key: a task registered for a
// session that already has a registered task waits (via wait) until the
// earlier task calls its leave func.
// It implements the per-session FIFO guarantee without blocking the bus
// receive loop itself — fetching continues (bounded by the concurrency
// semaphore) while a session's prior task is still settling.
type sessionGate struct {
	mu      chan struct{}
	tickets map[string]chan struct{}
}

func newSessionGate() *sessionGate {
	return &sessionGate{mu: make(chan struct{}, 1), tickets: make(map[string]chan struct{})}
}

func (g *sessionGate) lock() {
	g.mu <- struct{}{}
}

func (g *sessionGate) unlock() {
	<-g.mu
}

// register claims the next ticket for sessionID and must be called in the
// same order messages were received, so that the returned prev channel chain
// reflects receive order rather than goroutine-scheduling order. wait then
// blocks the caller (from a worker goroutine, not the dispatch loop) until
// its turn arrives; leave must be called exactly once when done.
func (g *sessionGate) register(sessionID string) (prev <-chan struct{}, leave func()) {
	g.lock()
	prevCh := g.tickets[sessionID]
	mine := make(chan struct{})
	g.tickets[sessionID] = mine
	g.unlock()

	leave = func() {
		close(mine)
		g.lock()
		if g.tickets[sessionID] == mine {
			delete(g.tickets, sessionID)
		}
		g.unlock()
	}
	return prevCh, leave
}

// wait blocks until prev closes (or ctx is cancelled first).
func wait(ctx context.Context, prev <-chan struct{}) error {
	if prev == nil {
		return nil
	}
	select {
	case <-prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package engine hosts the bounded-concurrency, session-ordered receive loop
// shared by all three workers: a counting semaphore caps in-flight tasks,
// and a per-session gate guarantees same-session messages are never
// processed out of order even though the underlying bus reader may read
// ahead across sessions.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/tkubica12/scalable-ai-chat/internal/bus"
)

// Handler processes one delivery. A nil error completes the message; a
// non-nil error abandons it for redelivery, except errors matching
// bus.ErrMalformed, which are terminal and also complete the message.
type Handler func(ctx context.Context, d bus.Delivery) error

// Pump runs Handler over every Delivery from a Receiver, bounded by
// maxConcurrency in-flight tasks and serialized per SessionID.
type Pump struct {
	Receiver       bus.Receiver
	Handler        Handler
	MaxConcurrency int
	DrainTimeout   time.Duration
	Name           string
}

// Run blocks until ctx is cancelled, then drains outstanding tasks (up to
// DrainTimeout) before returning. It never returns a non-nil error except
// ctx's own cancellation cause, so callers can treat Run's return as "ready
// to close downstream clients".
func (p *Pump) Run(ctx context.Context) error {
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = 10
	}
	sem := semaphore.NewWeighted(int64(p.MaxConcurrency))
	gate := newSessionGate()
	var wg sync.WaitGroup

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		d, err := p.Receiver.Receive(ctx)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				break
			}
			log.Error().Str("worker", p.Name).Err(err).Msg("bus_receive_error")
			continue
		}

		// register claims this session's ticket synchronously, in receive
		// order, so per-session FIFO does not depend on goroutine scheduling.
		prev, leave := gate.register(d.SessionID)

		wg.Add(1)
		go func(d bus.Delivery, prev <-chan struct{}, leave func()) {
			defer wg.Done()
			defer sem.Release(1)
			p.runTask(ctx, d, prev, leave)
		}(d, prev, leave)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.DrainTimeout):
		log.Warn().Str("worker", p.Name).Dur("drain_timeout", p.DrainTimeout).Msg("drain_timeout_exceeded_residual_tasks_abandoned")
	}
	return ctx.Err()
}

func (p *Pump) runTask(ctx context.Context, d bus.Delivery, prev <-chan struct{}, leave func()) {
	defer leave()
	if err := wait(ctx, prev); err != nil {
		// Shutdown raced the gate wait; leave the message uncommitted.
		_ = p.Receiver.Abandon(context.Background(), d)
		return
	}

	settle := func(handlerErr error) {
		switch {
		case handlerErr == nil, errors.Is(handlerErr, bus.ErrMalformed):
			if err := p.Receiver.Complete(context.Background(), d); err != nil {
				log.Error().Str("worker", p.Name).Str("session_id", d.SessionID).Err(err).Msg("bus_complete_error")
			}
		default:
			if err := p.Receiver.Abandon(context.Background(), d); err != nil {
				log.Error().Str("worker", p.Name).Str("session_id", d.SessionID).Err(err).Msg("bus_abandon_error")
			}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("worker", p.Name).Str("session_id", d.SessionID).Interface("panic", r).Msg("task_panic_recovered")
			settle(errors.New("task panicked"))
		}
	}()

	settle(p.Handler(ctx, d))
}

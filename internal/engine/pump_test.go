package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tkubica12/scalable-ai-chat/internal/bus"
)

func TestPump_PerSessionOrdering(t *testing.T) {
	fb := bus.NewFakeBus()
	require.NoError(t, fb.Publish(context.Background(), "s1", "m1", []byte("1")))
	require.NoError(t, fb.Publish(context.Background(), "s1", "m2", []byte("2")))
	require.NoError(t, fb.Publish(context.Background(), "s1", "m3", []byte("3")))

	var mu sync.Mutex
	var order []string

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pump{
		Receiver:       fb,
		MaxConcurrency: 8,
		DrainTimeout:   time.Second,
		Name:           "test",
		Handler: func(ctx context.Context, d bus.Delivery) error {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, string(d.Value))
			mu.Unlock()
			if len(order) == 3 {
				cancel()
			}
			return nil
		},
	}
	_ = p.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"1", "2", "3"}, order)
}

func TestPump_CrossSessionConcurrency(t *testing.T) {
	fb := bus.NewFakeBus()
	require.NoError(t, fb.Publish(context.Background(), "a", "m1", []byte("a")))
	require.NoError(t, fb.Publish(context.Background(), "b", "m1", []byte("b")))

	var inFlight, maxInFlight int32
	release := make(chan struct{})
	var once sync.Once

	ctx, cancel := context.WithCancel(context.Background())
	var done int32
	p := &Pump{
		Receiver:       fb,
		MaxConcurrency: 8,
		DrainTimeout:   time.Second,
		Name:           "test",
		Handler: func(ctx context.Context, d bus.Delivery) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				cur := atomic.LoadInt32(&maxInFlight)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&inFlight, -1)
			if atomic.AddInt32(&done, 1) == 2 {
				cancel()
			}
			return nil
		},
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		once.Do(func() { close(release) })
	}()
	_ = p.Run(ctx)

	require.EqualValues(t, 2, atomic.LoadInt32(&maxInFlight))
}

func TestPump_PanicIsAbandoned(t *testing.T) {
	fb := bus.NewFakeBus()
	require.NoError(t, fb.Publish(context.Background(), "s1", "m1", []byte("boom")))

	var attempts int32
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pump{
		Receiver:       fb,
		MaxConcurrency: 4,
		DrainTimeout:   time.Second,
		Name:           "test",
		Handler: func(ctx context.Context, d bus.Delivery) error {
			n := atomic.AddInt32(&attempts, 1)
			if n == 1 {
				panic("handler exploded")
			}
			cancel()
			return nil
		},
	}
	_ = p.Run(ctx)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestPump_MalformedIsTerminal(t *testing.T) {
	fb := bus.NewFakeBus()
	require.NoError(t, fb.Publish(context.Background(), "s1", "m1", []byte("bad")))
	require.NoError(t, fb.Publish(context.Background(), "s1", "m2", []byte("good")))

	var seen []string
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pump{
		Receiver:       fb,
		MaxConcurrency: 4,
		DrainTimeout:   time.Second,
		Name:           "test",
		Handler: func(ctx context.Context, d bus.Delivery) error {
			seen = append(seen, string(d.Value))
			if string(d.Value) == "bad" {
				return bus.ErrMalformed
			}
			cancel()
			return nil
		},
	}
	_ = p.Run(ctx)
	require.Equal(t, []string{"bad", "good"}, seen)
}

func TestPump_GracefulDrainWaitsForInFlightTasks(t *testing.T) {
	fb := bus.NewFakeBus()
	require.NoError(t, fb.Publish(context.Background(), "s1", "m1", []byte("x")))

	var completed int32
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pump{
		Receiver:       fb,
		MaxConcurrency: 4,
		DrainTimeout:   time.Second,
		Name:           "test",
		Handler: func(ctx context.Context, d bus.Delivery) error {
			cancel()
			time.Sleep(30 * time.Millisecond)
			atomic.StoreInt32(&completed, 1)
			return nil
		},
	}
	_ = p.Run(ctx)
	require.EqualValues(t, 1, atomic.LoadInt32(&completed))
}

// Package limiter bounds the number of concurrent calls made to the storage backend.
package limiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"portfolioproxy/internal/metrics"
)

// Limiter admits at most max concurrent operations. Waiters are admitted in arrival order.
type Limiter struct {
	name     string
	max      int
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	waiting  atomic.Int64
}

// New creates a limiter named for the call class it guards
func New(name string, max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{
		name: name,
		max:  max,
		sem:  semaphore.NewWeighted(int64(max)),
	}
}

func (l *Limiter) Name() string { return l.name }
func (l *Limiter) Max() int      { return l.max }

// InFlight returns the number of operations currently admitted
func (l *Limiter) InFlight() int64 { return l.inFlight.Load() }

// Waiting returns the number of callers queued for admission
func (l *Limiter) Waiting() int64 { return l.waiting.Load() }

// Do waits for a slot, runs fn and releases the slot whether fn succeeds or fails.
// If ctx ends while waiting, Do returns ctx.Err() without running fn.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	metrics.SetLimiterWaiting(l.name, l.waiting.Add(1))
	err := l.sem.Acquire(ctx, 1)
	metrics.SetLimiterWaiting(l.name, l.waiting.Add(-1))
	if err != nil {
		return err
	}

	metrics.SetLimiterInFlight(l.name, l.inFlight.Add(1))
	defer func() {
		metrics.SetLimiterInFlight(l.name, l.inFlight.Add(-1))
		l.sem.Release(1)
	}()

	return fn(ctx)
}

// Run is Do for operations that produce a value
func Run[T any](ctx context.Context, l *Limiter, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := l.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

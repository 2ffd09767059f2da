// Package scheduler runs keyed background tasks, at most one active task per key.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"portfolioproxy/internal/logging"
)

// Runner owns a context shared by every task it starts. Stop cancels it.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]chan struct{}
	wg     sync.WaitGroup
}

// New creates a runner whose tasks are cancelled when parent ends or Stop is called
func New(parent context.Context) *Runner {
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]chan struct{}),
	}
}

// Context returns the runner's context
func (r *Runner) Context() context.Context { return r.ctx }

// TryGo starts fn on its own goroutine unless a task with the same key is active.
// The returned channel is closed when that task (new or already running) finishes.
func (r *Runner) TryGo(key string, fn func(ctx context.Context)) (<-chan struct{}, bool) {
	r.mu.Lock()
	if done, ok := r.active[key]; ok {
		r.mu.Unlock()
		return done, false
	}
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		done := make(chan struct{})
		close(done)
		return done, false
	}
	done := make(chan struct{})
	r.active[key] = done
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, key)
			r.mu.Unlock()
			close(done)
		}()
		defer func() {
			if p := recover(); p != nil {
				logging.Error("Background task panicked", zap.String("key", key), zap.Any("panic", p))
			}
		}()
		fn(r.ctx)
	}()

	return done, true
}

// Running reports whether a task with key is active
func (r *Runner) Running(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[key]
	return ok
}

// Every runs fn after delay and then on every interval tick. A tick that finds
// the previous run still active is skipped.
func (r *Runner) Every(key string, delay, interval time.Duration, fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-r.ctx.Done():
			return
		case <-timer.C:
		}
		if _, started := r.TryGo(key, fn); !started {
			logging.Debug("Skipping scheduled run, previous still active", zap.String("key", key))
		}

		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				if _, started := r.TryGo(key, fn); !started {
					logging.Debug("Skipping scheduled run, previous still active", zap.String("key", key))
				}
			}
		}
	}()
}

// Wait blocks until every started task and periodic loop has returned
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Stop cancels all tasks and waits for them to return
func (r *Runner) Stop() {
	// cancel under the lock so TryGo cannot register a task past this point
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}

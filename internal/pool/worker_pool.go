// Package pool provides a bounded worker pool for controlled concurrency.
// The rerank stage uses it to score candidates in parallel without
// unbounded goroutine growth.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrPoolClosed = errors.New("pool is closed")

// Task represents a unit of work.
type Task func(ctx context.Context)

// WorkerPool runs tasks on a fixed number of worker goroutines.
// Completion order is unspecified; callers that need ordered output
// must collect into pre-indexed slots.
type WorkerPool struct {
	workers int
	tasks   chan taskWrapper
	closed  atomic.Bool
	wg      sync.WaitGroup

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
}

type taskWrapper struct {
	task Task
	ctx  context.Context
	done *sync.WaitGroup
}

// New creates a pool with the given number of workers.
// workers <= 0 falls back to 1.
func New(workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	p := &WorkerPool{
		workers: workers,
		tasks:   make(chan taskWrapper),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for w := range p.tasks {
		if w.ctx.Err() == nil {
			w.task(w.ctx)
		}
		p.completed.Add(1)
		if w.done != nil {
			w.done.Done()
		}
	}
}

// Submit enqueues a task tracked by done. The task is skipped (but done
// is still released) when ctx is already cancelled.
func (p *WorkerPool) Submit(ctx context.Context, done *sync.WaitGroup, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)
	if done != nil {
		done.Add(1)
	}

	select {
	case p.tasks <- taskWrapper{task: task, ctx: ctx, done: done}:
		return nil
	case <-ctx.Done():
		p.completed.Add(1)
		if done != nil {
			done.Done()
		}
		return ctx.Err()
	}
}

// Run executes fn(i) for i in [0, n) across the pool and waits for all
// to finish or ctx to be cancelled.
func (p *WorkerPool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	var done sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		if err := p.Submit(ctx, &done, func(taskCtx context.Context) {
			fn(taskCtx, i)
		}); err != nil {
			done.Wait()
			return err
		}
	}
	done.Wait()
	return ctx.Err()
}

// Stats returns the number of submitted and completed tasks.
func (p *WorkerPool) Stats() (submitted, completed int64) {
	return p.submitted.Load(), p.completed.Load()
}

// Close stops accepting tasks and waits for workers to drain.
func (p *WorkerPool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.tasks)
		p.wg.Wait()
	}
}

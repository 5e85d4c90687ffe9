// Package workpool runs blocking work on a fixed number of goroutines and hands the
// result back to the caller over a channel.
//
// Typical usage:
//
//	pool := workpool.New(2)
//	go pool.Run(ctx)
//
//	src, err := workpool.Do(ctx, pool, func(ctx context.Context) (io.ReadCloser, error) {
//	    return decoder.Open(ctx, path)
//	})
package workpool

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when work is submitted to a pool that is no longer running.
var ErrClosed = errors.New("work pool is closed")

type task struct {
	ctx context.Context
	run func(context.Context)
}

// Pool is a bounded executor.
type Pool struct {
	workers int
	tasks   chan task
	closed  chan struct{}
	once    sync.Once
}

// New creates a pool with the given number of workers (at least one).
func New(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		tasks:   make(chan task),
		closed:  make(chan struct{}),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.workers }

// Run starts the workers and blocks until ctx is done and every worker returned.
func (p *Pool) Run(ctx context.Context) {
	wg := sync.WaitGroup{}
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-p.tasks:
					t.run(t.ctx)
				}
			}
		}()
	}
	<-ctx.Done()
	p.once.Do(func() { close(p.closed) })
	wg.Wait()
}

// Do runs fn on a pool worker and waits for its result. If ctx ends before a
// worker picks the task up, Do returns ctx.Err() and fn never runs. Once fn has
// started Do waits for it, so fn must honor ctx itself; its result is never dropped.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	var zero T
	out := make(chan result, 1)

	t := task{
		ctx: ctx,
		run: func(ctx context.Context) {
			v, err := fn(ctx)
			out <- result{val: v, err: err}
		},
	}

	select {
	case p.tasks <- t:
	case <-p.closed:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	r := <-out
	return r.val, r.err
}

// Package workpool runs blocking calls on a bounded set of goroutines so the
// request path never executes them inline.
package workpool

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently running tasks.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// New returns a pool running at most size tasks at once (minimum 1).
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// Size is the pool capacity.
func (p *Pool) Size() int { return int(p.size) }

// Run waits for a free slot, runs fn on a pool goroutine and waits for it to
// finish or for ctx to be done, whichever happens first.
//
// The returned channel is closed once fn has actually returned. When ctx ends
// first Run returns ctx.Err() immediately while fn keeps its slot until it
// returns; callers holding other resources for fn should release them only
// after done is closed. A panic in fn is returned as an error.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) (<-chan struct{}, error) {
	done := make(chan struct{})
	if err := ctx.Err(); err != nil {
		close(done)
		return done, err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		close(done)
		return done, err
	}
	errCh := make(chan error, 1)
	go func() {
		defer close(done)
		defer p.sem.Release(1)
		errCh <- call(ctx, fn)
	}()
	select {
	case err := <-errCh:
		<-done
		return done, err
	case <-ctx.Done():
		return done, ctx.Err()
	}
}

func call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

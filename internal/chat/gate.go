package chat

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many generations run at once. Requests wait for a slot
// until their context ends or the queue timeout elapses.
type Gate struct {
	sem          *semaphore.Weighted
	size         int64
	queueTimeout time.Duration
}

// NewGate creates a gate with size slots. A non-positive queueTimeout waits
// as long as the request context allows.
func NewGate(size int, queueTimeout time.Duration) *Gate {
	if size <= 0 {
		size = 1
	}
	return &Gate{
		sem:          semaphore.NewWeighted(int64(size)),
		size:         int64(size),
		queueTimeout: queueTimeout,
	}
}

// Acquire waits for a slot. It returns ErrCapacity when the queue timeout
// elapses and the context error when ctx ends first. The returned release
// func must be called exactly once.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	waitCtx := ctx
	if g.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.queueTimeout)
		defer cancel()
	}

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrCapacity
		}
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

// Size returns the number of slots.
func (g *Gate) Size() int {
	return int(g.size)
}

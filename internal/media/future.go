package media

import (
	"context"
	"fmt"
	"sync"
)

// Future carries the Result of a job from a worker back to whoever submitted it.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve stores the result. Only the first call has an effect.
func (f *Future) Resolve(result Result) {
	f.once.Do(func() {
		f.result = result
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("wait for result: %w", ctx.Err())
	}
}

// Package memory provides the bounded in-memory job queue that feeds the worker pool.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/sipeto/internal/media"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = media.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch        chan media.Job
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan media.Job, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a job into the queue, blocking while it is full.
func (q *Queue) Enqueue(ctx context.Context, job media.Job) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- job:
		return nil
	}
}

// TryEnqueue pushes a job without waiting. It returns media.ErrQueueFull when
// every slot is taken.
func (q *Queue) TryEnqueue(job media.Job) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-q.done:
		return ErrClosed
	case q.ch <- job:
		return nil
	default:
		return media.ErrQueueFull
	}
}

// Dequeue pops the next job, respecting context cancellation. Jobs already
// queued are still handed out after Close.
func (q *Queue) Dequeue(ctx context.Context) (media.Job, error) {
	select {
	case job := <-q.ch:
		return job, nil
	default:
	}
	select {
	case <-ctx.Done():
		return media.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job := <-q.ch:
		return job, nil
	case <-q.done:
		select {
		case job := <-q.ch:
			return job, nil
		default:
			return media.Job{}, ErrClosed
		}
	}
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting jobs. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/sipeto/internal/media"
	"github.com/JakeFAU/sipeto/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   media.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue media.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job media.Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// tryEnqueuer is implemented by queues that can reject work instead of waiting.
type tryEnqueuer interface {
	TryEnqueue(job media.Job) error
}

// Submit enqueues job and returns the future its result will be delivered on.
// When the queue supports it Submit never waits for a free slot and fails with
// media.ErrQueueFull instead.
func (d *Dispatcher) Submit(ctx context.Context, job media.Job) (*media.Future, error) {
	if job.Future == nil {
		job.Future = media.NewFuture()
	}
	if q, ok := d.queue.(tryEnqueuer); ok {
		if err := q.TryEnqueue(job); err != nil {
			return nil, fmt.Errorf("queue enqueue: %w", err)
		}
		return job.Future, nil
	}
	if err := d.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job.Future, nil
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sipeto/internal/media"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan media.Job, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), media.Job{JobID: "job-1", Platform: media.PlatformTikTok}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		assert.Equal(t, "job-1", got.JobID)
		assert.Equal(t, media.PlatformTikTok, got.Platform)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := qDequeue.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	qEnqueue := NewQueue(1)
	require.NoError(t, qEnqueue.Enqueue(context.Background(), media.Job{JobID: "primed"}))
	assert.Equal(t, 1, qEnqueue.Len())
	err = qEnqueue.Enqueue(ctx, media.Job{})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueFullTimesOut(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), media.Job{JobID: "a"}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Enqueue(ctx, media.Job{JobID: "b"}), context.DeadlineExceeded)
}

func TestQueueTryEnqueueDoesNotWait(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.TryEnqueue(media.Job{JobID: "a"}))
	require.ErrorIs(t, q.TryEnqueue(media.Job{JobID: "b"}), media.ErrQueueFull)
	assert.Equal(t, 1, q.Len())

	q.Close()
	require.ErrorIs(t, q.TryEnqueue(media.Job{JobID: "c"}), ErrClosed)
}

func TestQueueCloseDrainsThenFails(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), media.Job{JobID: "queued"}))
	q.Close()
	// Closing twice should be safe.
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), media.Job{JobID: "late"}), ErrClosed)

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued", job.JobID)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestQueueCloseWakesBlockedDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not observe close")
	}
}

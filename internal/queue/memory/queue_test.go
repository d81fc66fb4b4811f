package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bizregistry-scraper/internal/queue"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan scraper.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "job-1", Attempt: 1}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "job-1", got.JobID)
		require.Equal(t, 1, got.Attempt)
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
	require.NoError(t, qEnqueue.Enqueue(context.Background(), scraper.QueueItem{JobID: "primed"}))
	require.Equal(t, 1, qEnqueue.Len())
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	err = qEnqueue.Enqueue(ctx, scraper.QueueItem{})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueCloseDrainsThenFails(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "left-over"}))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "left-over", item.JobID)

	_, err = q.Dequeue(context.Background())
	require.True(t, errors.Is(err, queue.ErrClosed))
	require.ErrorIs(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "late"}), queue.ErrClosed)
}

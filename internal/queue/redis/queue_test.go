package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bizregistry-scraper/internal/queue"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := New(Config{Addr: mr.Addr(), Key: "test:jobs", PollTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q, mr := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Ping(ctx))
	require.NoError(t, q.Enqueue(ctx, scraper.QueueItem{JobID: "job-1", Attempt: 1}))
	require.NoError(t, q.Enqueue(ctx, scraper.QueueItem{JobID: "job-2", Recovered: true}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	list, err := mr.List("test:jobs")
	require.NoError(t, err)
	require.Len(t, list, 2)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", first.JobID)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-2", second.JobID)
	require.True(t, second.Recovered)
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueDequeueWaitsForPush(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	got := make(chan scraper.QueueItem, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			got <- item
		}
	}()

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "late"}))
	select {
	case item := <-got:
		require.Equal(t, "late", item.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not observe push")
	}
}

func TestQueueClosed(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	require.ErrorIs(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "x"}), queue.ErrClosed)
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, queue.ErrClosed)
}

func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/bizregistry-scraper/internal/queue/memory"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

type recordingExecutor struct {
	mu    sync.Mutex
	ids   []string
	errs  map[string]error
	block chan struct{}
}

func (e *recordingExecutor) Execute(ctx context.Context, jobID string) error {
	e.mu.Lock()
	e.ids = append(e.ids, jobID)
	err := e.errs[jobID]
	e.mu.Unlock()
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (e *recordingExecutor) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ids...)
}

func TestWorkerExecutesQueuedJobsInOrder(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	exec := &recordingExecutor{errs: map[string]error{"b": errors.New("persist companies failed")}}
	core, logs := observer.New(zap.InfoLevel)
	w := New(q, exec, Config{ID: 1}, zap.New(core))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: id}))
	}
	require.NoError(t, q.Close())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}

	require.Equal(t, []string{"a", "b", "c"}, exec.seen())
	failures := logs.FilterMessage("job execution failed").All()
	require.Len(t, failures, 1)
	require.Equal(t, "b", failures[0].ContextMap()["job_id"])
}

func TestWorkerStopsOnShutdownMidJob(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	exec := &recordingExecutor{block: make(chan struct{})}
	w := New(q, exec, Config{}, nil)
	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "long"}))
	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "next"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(exec.seen()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	require.Equal(t, []string{"long"}, exec.seen())
	require.Equal(t, 1, q.Len())
}

type flakyQueue struct {
	mu    sync.Mutex
	fails int
	items []scraper.QueueItem
}

func (q *flakyQueue) Enqueue(context.Context, scraper.QueueItem) error { return nil }

func (q *flakyQueue) Dequeue(ctx context.Context) (scraper.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fails > 0 {
		q.fails--
		return scraper.QueueItem{}, errors.New("redis: connection refused")
	}
	if len(q.items) == 0 {
		return scraper.QueueItem{}, context.Canceled
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

func TestWorkerBacksOffOnDequeueErrors(t *testing.T) {
	t.Parallel()

	q := &flakyQueue{fails: 2, items: []scraper.QueueItem{{JobID: "x"}}}
	exec := &recordingExecutor{}
	w := New(q, exec, Config{DequeueBackoff: 3 * time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var slept []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	w.queue = stopAfterDrain{flakyQueue: q, cancel: cancel}

	w.Run(ctx)
	require.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, slept)
	require.Equal(t, []string{"x"}, exec.seen())
}

// stopAfterDrain cancels the run once the wrapped queue is empty.
type stopAfterDrain struct {
	*flakyQueue
	cancel context.CancelFunc
}

func (s stopAfterDrain) Dequeue(ctx context.Context) (scraper.QueueItem, error) {
	item, err := s.flakyQueue.Dequeue(ctx)
	if errors.Is(err, context.Canceled) {
		s.cancel()
	}
	return item, err
}

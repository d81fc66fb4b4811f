// Package worker consumes queued jobs and hands them to the coordinator.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizregistry-scraper/internal/clock/system"
	"github.com/JakeFAU/bizregistry-scraper/internal/metrics"
	"github.com/JakeFAU/bizregistry-scraper/internal/queue"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// Executor runs one job to a terminal state.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// Config controls Worker behavior.
type Config struct {
	ID             int
	DequeueBackoff time.Duration
}

// Worker consumes queue items and executes them one at a time.
type Worker struct {
	queue    scraper.Queue
	executor Executor
	cfg      Config
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Worker.
func New(q scraper.Queue, executor Executor, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DequeueBackoff <= 0 {
		cfg.DequeueBackoff = time.Second
	}
	metrics.Init()
	return &Worker{
		queue:    q,
		executor: executor,
		cfg:      cfg,
		logger:   logger.With(zap.Int("worker", cfg.ID)),
		sleep:    system.New().Sleep,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if w.sleep(ctx, w.cfg.DequeueBackoff) != nil {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job",
			zap.String("job_id", item.JobID),
			zap.Bool("recovered", item.Recovered))
		if !w.process(ctx, item) {
			return
		}
	}
}

// process executes one item and reports whether the worker should continue.
func (w *Worker) process(ctx context.Context, item scraper.QueueItem) bool {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	err := w.executor.Execute(ctx, item.JobID)
	switch {
	case err == nil:
		metrics.ObserveWorkerJob("done")
		return true
	case ctx.Err() != nil:
		metrics.ObserveWorkerJob("interrupted")
		w.logger.Info("job interrupted by shutdown", zap.String("job_id", item.JobID))
		return false
	default:
		metrics.ObserveWorkerJob("error")
		w.logger.Error("job execution failed",
			zap.String("job_id", item.JobID),
			zap.String("error_kind", scraper.ErrorKind(err)),
			zap.Error(err))
		return true
	}
}

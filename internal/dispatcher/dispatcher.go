// Package dispatcher fans the job queue out to a pool of workers.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Runner is a long-lived consumer such as worker.Worker.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher runs a fixed pool of workers.
type Dispatcher struct {
	workers []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, logger: logger}
}

// Size reports the pool width.
func (d *Dispatcher) Size() int { return len(d.workers) }

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

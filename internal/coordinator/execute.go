package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizregistry-scraper/internal/pipeline"
	"github.com/JakeFAU/bizregistry-scraper/internal/progress"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

var (
	// errStopped ends a run whose job left the running state.
	errStopped = errors.New("job no longer running")
	// errParked ends a run whose job was paused; Resume queues it again.
	errParked = errors.New("job parked")
)

// accumulator collects one run's results. It is owned by a single Execute
// call and needs no locking.
type accumulator struct {
	records  []scraper.Company
	seen     map[string]struct{}
	saved    int
	cost     float64
	captchas int
	limit    int
}

func newAccumulator(job scraper.Job) *accumulator {
	return &accumulator{
		seen:     make(map[string]struct{}),
		cost:     job.Cost,
		captchas: job.CaptchaSolved,
		limit:    job.Parameters.Limit,
	}
}

func (a *accumulator) add(res pipeline.Result) {
	a.cost += res.Cost
	a.captchas += res.CaptchaSolved
	for _, r := range res.Records {
		a.keep(r)
	}
}

// keep admits the first record per tax code, in encounter order, until the
// limit is reached. Records without a tax code have no identity and are
// dropped.
func (a *accumulator) keep(r scraper.Company) bool {
	if r.TaxCode == "" {
		return false
	}
	if _, dup := a.seen[r.TaxCode]; dup {
		return false
	}
	if a.limit > 0 && len(a.records) >= a.limit {
		return false
	}
	a.seen[r.TaxCode] = struct{}{}
	a.records = append(a.records, r)
	return true
}

func (a *accumulator) count() int { return len(a.records) }

// unsaved returns the records not yet persisted.
func (a *accumulator) unsaved() []scraper.Company {
	if a == nil {
		return nil
	}
	return a.records[a.saved:]
}

func (a *accumulator) markSaved() {
	if a != nil {
		a.saved = len(a.records)
	}
}

// Execute runs a queued job until it is terminal or parked. Jobs that are
// already terminal or already executing in this process are skipped. A
// paused job is parked: its results so far are persisted with the index of
// the next source and the worker is released. A cancelled context
// (shutdown) leaves the job non-terminal for recovery.
func (c *Coordinator) Execute(ctx context.Context, jobID string) error {
	runCtx, handle, ok := c.handles.Acquire(ctx, jobID)
	if !ok {
		c.logger.Debug("job already executing", zap.String("job_id", jobID))
		return nil
	}
	defer c.handles.Release(handle)

	job, err := c.start(runCtx, handle, jobID)
	if err != nil {
		return c.stop(ctx, jobID, err)
	}
	acc, err := c.restore(runCtx, job)
	if err != nil {
		return c.stop(ctx, jobID, err)
	}

	sources := job.Parameters.Sources
	for i := min(job.SourcesDone, len(sources)); i < len(sources); i++ {
		if err := c.checkpoint(runCtx, handle, jobID, i, acc); err != nil {
			return c.stop(ctx, jobID, err)
		}
		if err := c.runSource(runCtx, job, sources[i], i, len(sources), acc); err != nil {
			return c.stop(ctx, jobID, err)
		}
	}

	for {
		if err := c.checkpoint(runCtx, handle, jobID, len(sources), acc); err != nil {
			return c.stop(ctx, jobID, err)
		}
		err := c.complete(runCtx, jobID, len(sources), acc)
		if !errors.Is(err, scraper.ErrStatusConflict) {
			return c.stop(ctx, jobID, err)
		}
	}
}

// start moves the job to running. A job paused before it started is parked
// without running anything.
func (c *Coordinator) start(ctx context.Context, handle *Handle, jobID string) (scraper.Job, error) {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			c.logger.Warn("queued job not found", zap.String("job_id", jobID))
			return scraper.Job{}, errStopped
		}
		return scraper.Job{}, wrapPersistence("load job", err)
	}
	if job.Status.Terminal() {
		return scraper.Job{}, errStopped
	}
	if job.Status == scraper.JobStatusPaused {
		if err := c.checkpoint(ctx, handle, jobID, job.SourcesDone, nil); err != nil {
			return scraper.Job{}, err
		}
	}

	running := scraper.JobStatusRunning
	updated, err := c.jobs.UpdateJob(ctx, jobID, scraper.JobPatch{
		ExpectStatus: []scraper.JobStatus{scraper.JobStatusPending, scraper.JobStatusRunning},
		Status:       &running,
	})
	switch {
	case errors.Is(err, scraper.ErrStatusConflict):
		return scraper.Job{}, errStopped
	case err != nil:
		return scraper.Job{}, wrapPersistence("start job", err)
	}
	if job.Status != scraper.JobStatusRunning {
		c.emitStatus(jobID, scraper.JobStatusRunning)
	}
	c.logger.Info("job started",
		zap.String("job_id", jobID),
		zap.Strings("sources", updated.Parameters.Sources),
		zap.Int("sources_done", updated.SourcesDone),
		zap.Bool("resumed", job.Status != scraper.JobStatusPending))
	return updated, nil
}

// restore seeds the accumulator. A job parked earlier resumes with the
// records it already persisted so de-duplication and the limit carry over.
func (c *Coordinator) restore(ctx context.Context, job scraper.Job) (*accumulator, error) {
	acc := newAccumulator(job)
	if job.SourcesDone == 0 {
		return acc, nil
	}
	stored, err := c.companies.ListCompanies(ctx, job.ID, 0, 0)
	if err != nil {
		return nil, wrapPersistence("load parked records", err)
	}
	for _, r := range stored {
		acc.keep(r)
	}
	acc.markSaved()
	return acc, nil
}

// checkpoint returns nil while the job may keep running. A paused job is
// parked at done and ends the run with errParked; any other state ends it
// with errStopped.
func (c *Coordinator) checkpoint(ctx context.Context, handle *Handle, jobID string, done int, acc *accumulator) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := c.jobs.GetJob(ctx, jobID)
		if err != nil {
			return wrapPersistence("reload job", err)
		}
		switch job.Status {
		case scraper.JobStatusRunning, scraper.JobStatusPending:
			return nil
		case scraper.JobStatusPaused:
			parked, err := c.park(ctx, handle, jobID, done, acc)
			if err != nil {
				return err
			}
			if parked {
				return errParked
			}
		default:
			return errStopped
		}
	}
}

// park persists the unsaved records and the resume point in one guarded
// write. It reports false when the job was resumed or cancelled first.
func (c *Coordinator) park(ctx context.Context, handle *Handle, jobID string, done int, acc *accumulator) (bool, error) {
	rows := acc.unsaved()
	parked, err := handle.park(func() (bool, error) {
		_, err := c.jobs.UpdateJob(ctx, jobID, scraper.JobPatch{
			ExpectStatus: []scraper.JobStatus{scraper.JobStatusPaused},
			SourcesDone:  &done,
			Companies:    rows,
		})
		switch {
		case errors.Is(err, scraper.ErrStatusConflict):
			return false, nil
		case err != nil:
			return false, wrapPersistence("park job", err)
		}
		return true, nil
	})
	if parked {
		acc.markSaved()
		c.logger.Info("job parked",
			zap.String("job_id", jobID),
			zap.Int("sources_done", done),
			zap.Int("records_saved", len(rows)))
	}
	return parked, err
}

// runSource runs one source and persists the job's running totals. Source
// failures are recorded on the job and never returned; only a cancelled
// context ends the loop.
func (c *Coordinator) runSource(
	ctx context.Context,
	job scraper.Job,
	name string,
	index, total int,
	acc *accumulator,
) error {
	params := job.Parameters
	started := c.clock.Now()
	res, runErr := c.runner.Run(ctx, pipeline.Request{
		JobID:         job.ID,
		Source:        name,
		Params:        params,
		UseProxy:      params.UseProxy,
		SolveCaptcha:  params.SolveCaptcha,
		SolverService: params.SolverService,
	})
	if runErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	elapsed := c.clock.Now().Sub(started)
	acc.add(res)

	progressPct := (index + 1) * 100 / total
	kept := acc.count()
	patch := scraper.JobPatch{
		ExpectStatus:  []scraper.JobStatus{scraper.JobStatusRunning, scraper.JobStatusPaused},
		Progress:      &progressPct,
		TotalRecords:  &kept,
		SuccessCount:  &kept,
		CaptchaSolved: &acc.captchas,
		Cost:          &acc.cost,
	}

	evt := progress.Event{
		TS:      c.clock.Now(),
		JobID:   job.ID,
		Source:  name,
		Records: len(res.Records),
		Cost:    res.Cost,
		Dur:     max(elapsed, 0),
	}
	if runErr != nil {
		patch.AppendErrorLog = fmt.Sprintf("Failed to scrape from %s: %s", name, runErr.Error())
		evt.Kind = progress.KindSourceFailed
		evt.Note = runErr.Error()
		c.logger.Warn("source failed",
			zap.String("job_id", job.ID),
			zap.String("source", name),
			zap.String("error_kind", scraper.ErrorKind(runErr)),
			zap.Error(runErr))
	} else {
		evt.Kind = progress.KindSourceDone
		c.logger.Info("source completed",
			zap.String("job_id", job.ID),
			zap.String("source", name),
			zap.Int("records", len(res.Records)),
			zap.Float64("cost", res.Cost),
			zap.Int("progress", progressPct))
	}
	c.events.Emit(evt)

	if _, err := c.jobs.UpdateJob(ctx, job.ID, patch); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("persist source progress failed",
			zap.String("job_id", job.ID),
			zap.String("source", name),
			zap.Error(err))
	}
	return nil
}

// complete marks the job completed and persists the unsaved records in the
// same guarded write. ErrStatusConflict means an admin call got there first
// and nothing was written.
func (c *Coordinator) complete(ctx context.Context, jobID string, done int, acc *accumulator) error {
	rows := acc.unsaved()
	completed := scraper.JobStatusCompleted
	full := 100
	count := acc.count()
	_, err := c.jobs.UpdateJob(ctx, jobID, scraper.JobPatch{
		ExpectStatus:  []scraper.JobStatus{scraper.JobStatusRunning, scraper.JobStatusPending},
		Status:        &completed,
		Progress:      &full,
		TotalRecords:  &count,
		SuccessCount:  &count,
		CaptchaSolved: &acc.captchas,
		Cost:          &acc.cost,
		SourcesDone:   &done,
		Companies:     rows,
	})
	switch {
	case errors.Is(err, scraper.ErrStatusConflict):
		c.logger.Info("job left running before completion", zap.String("job_id", jobID))
		return err
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil && len(rows) > 0:
		return wrapPersistence("persist companies", err)
	case err != nil:
		return wrapPersistence("complete job", err)
	}
	acc.markSaved()
	c.emitStatus(jobID, scraper.JobStatusCompleted)
	c.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.Int("records", count),
		zap.Int("captcha_solved", acc.captchas),
		zap.Float64("cost", acc.cost))
	return nil
}

// stop translates a loop exit into Execute's return value.
func (c *Coordinator) stop(parent context.Context, jobID string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errParked):
		return nil
	case errors.Is(err, errStopped):
		c.logger.Info("job stopped", zap.String("job_id", jobID))
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if parent.Err() != nil {
			c.logger.Info("job interrupted, left for recovery", zap.String("job_id", jobID))
			return parent.Err()
		}
		c.logger.Info("job cancelled", zap.String("job_id", jobID))
		return nil
	default:
		c.fail(parent, jobID, err.Error())
		return err
	}
}

// fail marks the job failed. The write outlives a cancelled caller.
func (c *Coordinator) fail(ctx context.Context, jobID, reason string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	failed := scraper.JobStatusFailed
	_, err := c.jobs.UpdateJob(writeCtx, jobID, scraper.JobPatch{
		ExpectStatus:   scraper.NonTerminalStatuses(),
		Status:         &failed,
		AppendErrorLog: reason,
	})
	if err != nil {
		c.logger.Error("mark job failed", zap.String("job_id", jobID), zap.String("reason", reason), zap.Error(err))
		return
	}
	c.emitStatus(jobID, scraper.JobStatusFailed)
	c.logger.Error("job failed", zap.String("job_id", jobID), zap.String("reason", reason))
}

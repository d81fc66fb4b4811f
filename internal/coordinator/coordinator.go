// Package coordinator owns the scraping job lifecycle: submission, the
// per-source execution loop, admin pause/resume/cancel, and recovery of jobs
// orphaned by a restart.
//
// Job states move pending -> running -> completed on their own. failed is
// reserved for errors outside the per-source loop. paused and cancelled are
// admin-driven and accepted from any non-terminal state.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizregistry-scraper/internal/pipeline"
	"github.com/JakeFAU/bizregistry-scraper/internal/progress"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// Runner executes one source for one job.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Config holds job defaults.
type Config struct {
	DefaultSources []string
	DefaultSolver  scraper.SolverService
	MaxLimit       int
}

// SubmitRequest is a new job as received from a client.
type SubmitRequest struct {
	Kind       scraper.JobKind
	Parameters *scraper.JobParameters
	UserID     string
}

// Coordinator drives jobs through their lifecycle.
type Coordinator struct {
	jobs      scraper.JobStore
	companies scraper.CompanyStore
	runner    Runner
	queue     scraper.Queue
	ids       scraper.IDGenerator
	clock     scraper.Clock
	events    progress.Emitter
	handles   *Registry
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Coordinator.
func New(
	jobs scraper.JobStore,
	companies scraper.CompanyStore,
	runner Runner,
	queue scraper.Queue,
	ids scraper.IDGenerator,
	clock scraper.Clock,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		jobs:      jobs,
		companies: companies,
		runner:    runner,
		queue:     queue,
		ids:       ids,
		clock:     clock,
		events:    progress.OrNop(events),
		handles:   NewRegistry(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Handles exposes the registry of executing jobs.
func (c *Coordinator) Handles() *Registry { return c.handles }

// Submit validates req, persists the job as pending, and queues it for
// execution. It never waits for the job to run.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (scraper.Job, error) {
	params, err := c.normalize(req)
	if err != nil {
		return scraper.Job{}, err
	}
	id, err := c.ids.NewID()
	if err != nil {
		return scraper.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := c.clock.Now()
	job := scraper.Job{
		ID:         id,
		Kind:       req.Kind,
		UserID:     strings.TrimSpace(req.UserID),
		Parameters: params,
		Status:     scraper.JobStatusPending,
		ErrorLogs:  []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.jobs.CreateJob(ctx, job); err != nil {
		return scraper.Job{}, wrapPersistence("create job", err)
	}
	c.emitStatus(job.ID, scraper.JobStatusPending)
	c.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Kind)),
		zap.Strings("sources", params.Sources))

	item := scraper.QueueItem{JobID: job.ID, Attempt: 1, Submitted: now.Unix()}
	if err := c.queue.Enqueue(ctx, item); err != nil {
		c.fail(ctx, job.ID, fmt.Sprintf("enqueue job: %v", err))
		return job, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}

func (c *Coordinator) normalize(req SubmitRequest) (scraper.JobParameters, error) {
	if req.Kind == "" {
		return scraper.JobParameters{}, scraper.Validationf("jobKind is required")
	}
	if !req.Kind.Valid() {
		return scraper.JobParameters{}, scraper.Validationf("unsupported jobKind %q", req.Kind)
	}
	if req.Parameters == nil {
		return scraper.JobParameters{}, scraper.Validationf("parameters are required")
	}
	params := *req.Parameters
	params.Province = strings.TrimSpace(params.Province)
	params.IndustryCode = strings.TrimSpace(params.IndustryCode)
	if params.Limit < 0 {
		return scraper.JobParameters{}, scraper.Validationf("limit must be >= 0")
	}
	if c.cfg.MaxLimit > 0 && params.Limit > c.cfg.MaxLimit {
		return scraper.JobParameters{}, scraper.Validationf("limit must be <= %d", c.cfg.MaxLimit)
	}
	sources := make([]string, 0, len(params.Sources))
	for _, s := range params.Sources {
		if s = strings.TrimSpace(s); s != "" {
			sources = append(sources, s)
		}
	}
	if len(sources) == 0 {
		sources = slices.Clone(c.cfg.DefaultSources)
	}
	if len(sources) == 0 {
		return scraper.JobParameters{}, scraper.Validationf("at least one source is required")
	}
	params.Sources = sources
	if params.SolverService == "" {
		params.SolverService = c.cfg.DefaultSolver
	}
	switch params.SolverService {
	case "", scraper.SolverTwoCaptcha, scraper.SolverAntiCaptcha:
	default:
		return scraper.JobParameters{}, scraper.Validationf("unsupported solver_service %q", params.SolverService)
	}
	return params, nil
}

// Get returns one job.
func (c *Coordinator) Get(ctx context.Context, jobID string) (scraper.Job, error) {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return scraper.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first.
func (c *Coordinator) List(ctx context.Context, filter scraper.JobFilter) ([]scraper.Job, error) {
	jobs, err := c.jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Companies returns the records a job persisted.
func (c *Coordinator) Companies(ctx context.Context, jobID string, limit, offset int) ([]scraper.Company, error) {
	if _, err := c.Get(ctx, jobID); err != nil {
		return nil, err
	}
	out, err := c.companies.ListCompanies(ctx, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	return out, nil
}

// Pause marks a non-terminal job paused. Its run parks before the next
// source and frees the worker.
func (c *Coordinator) Pause(ctx context.Context, jobID string) (scraper.Job, error) {
	return c.transition(ctx, jobID, scraper.JobStatusPaused, scraper.NonTerminalStatuses())
}

// Resume returns a paused job to running. A parked job, or one with no
// live execution in this process, is queued again and continues from its
// resume point. Resuming a job that is not
// paused leaves it untouched.
func (c *Coordinator) Resume(ctx context.Context, jobID string) (scraper.Job, error) {
	current, err := c.Get(ctx, jobID)
	if err != nil {
		return scraper.Job{}, err
	}
	if current.Status.Terminal() {
		return current, fmt.Errorf("%w: job %s is %s", scraper.ErrStatusConflict, jobID, current.Status)
	}
	if current.Status != scraper.JobStatusPaused {
		return current, nil
	}
	job, err := c.transition(ctx, jobID, scraper.JobStatusRunning, []scraper.JobStatus{scraper.JobStatusPaused})
	if err != nil {
		return scraper.Job{}, err
	}
	if !c.handles.Wake(jobID) {
		item := scraper.QueueItem{JobID: jobID, Attempt: 1, Submitted: c.clock.Now().Unix(), Recovered: true}
		if err := c.queue.Enqueue(ctx, item); err != nil {
			return job, fmt.Errorf("enqueue resumed job %s: %w", jobID, err)
		}
	}
	return job, nil
}

// Cancel stops a non-terminal job. Records not yet persisted are dropped.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) (scraper.Job, error) {
	job, err := c.transition(ctx, jobID, scraper.JobStatusCancelled, scraper.NonTerminalStatuses())
	if err != nil {
		return scraper.Job{}, err
	}
	c.handles.Cancel(jobID)
	return job, nil
}

func (c *Coordinator) transition(
	ctx context.Context,
	jobID string,
	to scraper.JobStatus,
	from []scraper.JobStatus,
) (scraper.Job, error) {
	job, err := c.jobs.UpdateJob(ctx, jobID, scraper.JobPatch{ExpectStatus: from, Status: &to})
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) || errors.Is(err, scraper.ErrStatusConflict) {
			return scraper.Job{}, err
		}
		return scraper.Job{}, wrapPersistence("update job status", err)
	}
	c.emitStatus(jobID, to)
	c.logger.Info("job status changed", zap.String("job_id", jobID), zap.String("status", string(to)))
	return job, nil
}

// Recover queues jobs left pending or running by a previous process.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	jobs, err := c.jobs.ListJobs(ctx, scraper.JobFilter{
		Statuses: []scraper.JobStatus{scraper.JobStatusPending, scraper.JobStatusRunning},
	})
	if err != nil {
		return 0, fmt.Errorf("list orphaned jobs: %w", err)
	}
	recovered := 0
	for _, job := range jobs {
		if c.handles.Active(job.ID) {
			continue
		}
		item := scraper.QueueItem{JobID: job.ID, Attempt: 1, Submitted: c.clock.Now().Unix(), Recovered: true}
		if err := c.queue.Enqueue(ctx, item); err != nil {
			return recovered, fmt.Errorf("enqueue recovered job %s: %w", job.ID, err)
		}
		recovered++
		c.logger.Info("job recovered", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
	}
	return recovered, nil
}

// Shutdown aborts every executing job. Their records stay non-terminal so
// the next process recovers them.
func (c *Coordinator) Shutdown() {
	c.handles.CancelAll()
}

func (c *Coordinator) emitStatus(jobID string, status scraper.JobStatus) {
	c.events.Emit(progress.Event{
		Kind:   progress.KindJobStatus,
		TS:     c.clock.Now(),
		JobID:  jobID,
		Status: string(status),
	})
}

func wrapPersistence(op string, err error) error {
	if errors.Is(err, scraper.ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", scraper.ErrPersistence, op, err)
}

package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]scraper.Job
	companies scraper.CompanyStore
	now       func() time.Time
}

// JobStoreOption configures a JobStore.
type JobStoreOption func(*JobStore)

// WithCompanyStore sets where companies carried by a JobPatch are written.
func WithCompanyStore(companies scraper.CompanyStore) JobStoreOption {
	return func(s *JobStore) { s.companies = companies }
}

// NewJobStore constructs a JobStore.
func NewJobStore(opts ...JobStoreOption) *JobStore {
	s := &JobStore{
		jobs: make(map[string]scraper.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %s already exists", scraper.ErrPersistence, job.ID)
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = s.now()
	}
	job.ErrorLogs = cloneStrings(job.ErrorLogs)
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{}, fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	return cloneJob(job), nil
}

// UpdateJob applies patch atomically and returns the updated record. The
// patch's companies are inserted while the job is locked; a failed insert
// leaves the job untouched.
func (s *JobStore) UpdateJob(ctx context.Context, jobID string, patch scraper.JobPatch) (scraper.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{}, fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	if len(patch.ExpectStatus) > 0 && !slices.Contains(patch.ExpectStatus, job.Status) {
		return cloneJob(job), fmt.Errorf("%w: job %s is %s", scraper.ErrStatusConflict, jobID, job.Status)
	}
	if len(patch.Companies) > 0 {
		if s.companies == nil {
			return scraper.Job{}, fmt.Errorf("%w: job store has no company store", scraper.ErrPersistence)
		}
		if err := s.companies.InsertCompanies(ctx, patch.Companies); err != nil {
			return scraper.Job{}, fmt.Errorf("insert companies for job %s: %w", jobID, err)
		}
	}
	now := s.now()
	applyJobPatch(&job, patch, now)
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return cloneJob(job), nil
}

// ListJobs returns jobs newest first, filtered by status.
func (s *JobStore) ListJobs(_ context.Context, filter scraper.JobFilter) ([]scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, job.Status) {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func applyJobPatch(job *scraper.Job, patch scraper.JobPatch, now time.Time) {
	if patch.Status != nil {
		job.Status = *patch.Status
		if job.Status == scraper.JobStatusRunning && job.StartedAt == nil {
			job.StartedAt = pointerTime(now)
		}
		if job.Status.Terminal() {
			job.CompletedAt = pointerTime(now)
		}
	}
	if patch.StartedAt != nil {
		job.StartedAt = pointerTime(*patch.StartedAt)
	}
	if patch.Progress != nil {
		if p := clampProgress(*patch.Progress); p > job.Progress {
			job.Progress = p
		}
	}
	if patch.TotalRecords != nil {
		job.TotalRecords = *patch.TotalRecords
	}
	if patch.SuccessCount != nil {
		job.SuccessCount = *patch.SuccessCount
	}
	if patch.CaptchaSolved != nil {
		job.CaptchaSolved = *patch.CaptchaSolved
	}
	if patch.SourcesDone != nil {
		job.SourcesDone = *patch.SourcesDone
	}
	if patch.Cost != nil && *patch.Cost >= 0 {
		job.Cost = *patch.Cost
	}
	if patch.AppendErrorLog != "" {
		job.ErrorLogs = append(cloneStrings(job.ErrorLogs), patch.AppendErrorLog)
	}
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func cloneJob(job scraper.Job) scraper.Job {
	job.ErrorLogs = cloneStrings(job.ErrorLogs)
	job.Parameters.Sources = cloneStrings(job.Parameters.Sources)
	return job
}

func cloneStrings(src []string) []string {
	if src == nil {
		return []string{}
	}
	return append([]string(nil), src...)
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

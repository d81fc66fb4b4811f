package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

const jobColumns = `job_id, job_type, COALESCE(user_id, ''), parameters, status, progress,
	total_records, success_count, captcha_solved, cost_tracking, sources_done, error_logs,
	created_at, updated_at, started_at, completed_at`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job scraper.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal job parameters: %w", err)
	}
	errorLogs := job.ErrorLogs
	if errorLogs == nil {
		errorLogs = []string{}
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO scraping_jobs (
	job_id, job_type, user_id, parameters, status, progress,
	total_records, success_count, captcha_solved, cost_tracking, error_logs, created_at
) VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		job.ID,
		string(job.Kind),
		job.UserID,
		params,
		string(job.Status),
		job.Progress,
		job.TotalRecords,
		job.SuccessCount,
		job.CaptchaSolved,
		job.Cost,
		errorLogs,
		job.CreatedAt,
	)
	if err != nil {
		return persistenceErr("insert job", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (scraper.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scraping_jobs WHERE job_id = $1`, jobID)
	job, err := scanJob(row)
	if isNoRows(err) {
		return scraper.Job{}, fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	if err != nil {
		return scraper.Job{}, persistenceErr("get job", err)
	}
	return job, nil
}

// UpdateJob applies patch in a single guarded UPDATE. Progress only rises;
// completed_at is stamped when the new status is terminal. A patch carrying
// companies runs the UPDATE and the company upserts in one transaction.
func (s *Store) UpdateJob(ctx context.Context, jobID string, patch scraper.JobPatch) (scraper.Job, error) {
	if len(patch.Companies) == 0 {
		job, err := updateJob(ctx, s.pool, jobID, patch)
		if isNoRows(err) {
			return s.conflict(ctx, jobID)
		}
		return job, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return scraper.Job{}, persistenceErr("begin job update", err)
	}
	job, err := updateJob(ctx, tx, jobID, patch)
	if err != nil {
		_ = tx.Rollback(ctx)
		if isNoRows(err) {
			return s.conflict(ctx, jobID)
		}
		return scraper.Job{}, err
	}
	if err := insertCompanies(ctx, tx, patch.Companies); err != nil {
		_ = tx.Rollback(ctx)
		return scraper.Job{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return scraper.Job{}, persistenceErr("commit job update", err)
	}
	return job, nil
}

// conflict reports why a guarded UPDATE matched no row.
func (s *Store) conflict(ctx context.Context, jobID string) (scraper.Job, error) {
	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return scraper.Job{}, err
	}
	return current, fmt.Errorf("%w: job %s is %s", scraper.ErrStatusConflict, jobID, current.Status)
}

// updateJob runs the guarded UPDATE. pgx.ErrNoRows is returned unwrapped.
func updateJob(ctx context.Context, q querier, jobID string, patch scraper.JobPatch) (scraper.Job, error) {
	var status *string
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}
	var expect []string
	for _, st := range patch.ExpectStatus {
		expect = append(expect, string(st))
	}
	row := q.QueryRow(ctx, `
UPDATE scraping_jobs SET
	status         = COALESCE($2, status),
	progress       = CASE WHEN $3::int IS NULL THEN progress
	                      ELSE GREATEST(progress, LEAST(GREATEST($3::int, 0), 100)) END,
	total_records  = COALESCE($4, total_records),
	success_count  = COALESCE($5, success_count),
	captcha_solved = COALESCE($6, captcha_solved),
	cost_tracking  = CASE WHEN $7::float8 >= 0 THEN $7::float8 ELSE cost_tracking END,
	error_logs     = CASE WHEN $8 = '' THEN error_logs ELSE array_append(error_logs, $8) END,
	started_at     = COALESCE($9, started_at, CASE WHEN $2 = 'running' THEN now() END),
	completed_at   = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN now() ELSE completed_at END,
	sources_done   = COALESCE($11, sources_done),
	updated_at     = now()
WHERE job_id = $1 AND ($10::text[] IS NULL OR status = ANY($10))
RETURNING `+jobColumns,
		jobID,
		status,
		patch.Progress,
		patch.TotalRecords,
		patch.SuccessCount,
		patch.CaptchaSolved,
		patch.Cost,
		patch.AppendErrorLog,
		patch.StartedAt,
		expect,
		patch.SourcesDone,
	)
	job, err := scanJob(row)
	if err != nil && !isNoRows(err) {
		return scraper.Job{}, persistenceErr("update job", err)
	}
	return job, err
}

// ListJobs returns jobs newest first, filtered by status.
func (s *Store) ListJobs(ctx context.Context, filter scraper.JobFilter) ([]scraper.Job, error) {
	var statuses []string
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM scraping_jobs
WHERE ($1::text[] IS NULL OR status = ANY($1))
ORDER BY created_at DESC, job_id DESC
LIMIT $2 OFFSET $3`, statuses, limit, filter.Offset)
	if err != nil {
		return nil, persistenceErr("list jobs", err)
	}
	defer rows.Close()
	jobs := []scraper.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, persistenceErr("scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate jobs", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (scraper.Job, error) {
	var (
		job         scraper.Job
		kind        string
		status      string
		params      []byte
		startedAt   *time.Time
		completedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&kind,
		&job.UserID,
		&params,
		&status,
		&job.Progress,
		&job.TotalRecords,
		&job.SuccessCount,
		&job.CaptchaSolved,
		&job.Cost,
		&job.SourcesDone,
		&job.ErrorLogs,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return scraper.Job{}, err
	}
	job.Kind = scraper.JobKind(kind)
	job.Status = scraper.JobStatus(status)
	job.StartedAt = startedAt
	job.CompletedAt = completedAt
	if job.ErrorLogs == nil {
		job.ErrorLogs = []string{}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return scraper.Job{}, fmt.Errorf("decode job parameters: %w", err)
		}
	}
	return job, nil
}

package postgres

import (
	"context"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// CreateTask inserts a new CAPTCHA audit row.
func (s *Store) CreateTask(ctx context.Context, task scraper.CaptchaTask) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO captcha_tasks (
	task_id, captcha_type, solver_service, image_url, site_key, page_url,
	status, cost, solve_time, success, job_id, created_at
) VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),$7,$8,$9,$10,NULLIF($11,''),$12)`,
		task.ID, string(task.Kind), string(task.Service), task.ImageURL, task.SiteKey, task.PageURL,
		string(task.Status), task.Cost, task.SolveTimeMs, task.Success, task.JobID, task.CreatedAt,
	); err != nil {
		return persistenceErr("insert captcha task", err)
	}
	return nil
}

// SaveTask upserts the full task state.
func (s *Store) SaveTask(ctx context.Context, task scraper.CaptchaTask) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO captcha_tasks (
	task_id, captcha_type, solver_service, image_url, site_key, page_url, provider_task_id,
	status, solution, cost, solve_time, success, error_text, job_id, created_at
) VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),$8,NULLIF($9,''),$10,$11,$12,NULLIF($13,''),NULLIF($14,''),$15)
ON CONFLICT (task_id) DO UPDATE SET
	provider_task_id = EXCLUDED.provider_task_id,
	status = EXCLUDED.status,
	solution = EXCLUDED.solution,
	cost = EXCLUDED.cost,
	solve_time = EXCLUDED.solve_time,
	success = EXCLUDED.success,
	error_text = EXCLUDED.error_text,
	updated_at = now()`,
		task.ID, string(task.Kind), string(task.Service), task.ImageURL, task.SiteKey, task.PageURL,
		task.ProviderTaskID, string(task.Status), task.Solution, task.Cost, task.SolveTimeMs,
		task.Success, task.ErrorText, task.JobID, task.CreatedAt,
	); err != nil {
		return persistenceErr("save captcha task", err)
	}
	return nil
}

// ListTasks returns audit rows in creation order; an empty jobID lists all.
func (s *Store) ListTasks(ctx context.Context, jobID string) ([]scraper.CaptchaTask, error) {
	rows, err := s.pool.Query(ctx, `
SELECT task_id, captcha_type, solver_service, COALESCE(image_url, ''), COALESCE(site_key, ''),
	COALESCE(page_url, ''), COALESCE(provider_task_id, ''), status, COALESCE(solution, ''), cost,
	solve_time, success, COALESCE(error_text, ''), COALESCE(job_id, ''), created_at, updated_at
FROM captcha_tasks
WHERE ($1 = '' OR job_id = $1)
ORDER BY created_at, task_id`, jobID)
	if err != nil {
		return nil, persistenceErr("list captcha tasks", err)
	}
	defer rows.Close()
	out := []scraper.CaptchaTask{}
	for rows.Next() {
		var (
			t       scraper.CaptchaTask
			kind    string
			service string
			status  string
		)
		if err := rows.Scan(
			&t.ID, &kind, &service, &t.ImageURL, &t.SiteKey, &t.PageURL, &t.ProviderTaskID,
			&status, &t.Solution, &t.Cost, &t.SolveTimeMs, &t.Success, &t.ErrorText, &t.JobID,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, persistenceErr("scan captcha task", err)
		}
		t.Kind = scraper.ChallengeKind(kind)
		t.Service = scraper.SolverService(service)
		t.Status = scraper.CaptchaStatus(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate captcha tasks", err)
	}
	return out, nil
}

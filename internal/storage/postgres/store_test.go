package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func jobRow(mock pgxmock.PgxPoolIface, id string, status scraper.JobStatus, progress int, started *time.Time) *pgxmock.Rows {
	now := time.Unix(1700000000, 0).UTC()
	return mock.NewRows([]string{
		"job_id", "job_type", "user_id", "parameters", "status", "progress",
		"total_records", "success_count", "captcha_solved", "cost_tracking", "sources_done", "error_logs",
		"created_at", "updated_at", "started_at", "completed_at",
	}).AddRow(
		id, "region", "", []byte(`{"province":"HN","limit":50,"use_proxy":true,"solve_captcha":false}`),
		string(status), progress, 0, 0, 0, 0.25, 1, []string{"Failed to scrape from hsctvn: HTTP 503: Service Unavailable"},
		now, now, started, (*time.Time)(nil),
	)
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scraping_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	job := scraper.Job{
		ID:         "job-1",
		Kind:       scraper.JobKindRegion,
		Parameters: scraper.JobParameters{Province: "HN", Limit: 50},
		Status:     scraper.JobStatusPending,
		CreatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO scraping_jobs").
		WithArgs(
			"job-1", "region", "", pgxmock.AnyArg(), "pending",
			0, 0, 0, 0, 0.0, []string{}, now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobWrapsPersistenceError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO scraping_jobs").
		WillReturnError(errors.New("connection reset"))

	err := store.CreateJob(context.Background(), scraper.Job{ID: "job-1"})
	require.ErrorIs(t, err, scraper.ErrPersistence)
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := time.Unix(1700000100, 0).UTC()
	mock.ExpectQuery("SELECT job_id").
		WithArgs("job-1").
		WillReturnRows(jobRow(mock, "job-1", scraper.JobStatusRunning, 33, &started))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusRunning, job.Status)
	require.Equal(t, 33, job.Progress)
	require.Equal(t, 1, job.SourcesDone)
	require.Equal(t, "HN", job.Parameters.Province)
	require.Equal(t, 50, job.Parameters.Limit)
	require.Len(t, job.ErrorLogs, 1)
	require.NotNil(t, job.StartedAt)
	require.Nil(t, job.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT job_id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestUpdateJobReturnsUpdatedRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	running := scraper.JobStatusRunning
	mock.ExpectQuery("UPDATE scraping_jobs SET").
		WithArgs(
			"job-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), "", pgxmock.AnyArg(), []string{"pending"},
			pgxmock.AnyArg(),
		).
		WillReturnRows(jobRow(mock, "job-1", scraper.JobStatusRunning, 0, nil))

	job, err := store.UpdateJob(context.Background(), "job-1", scraper.JobPatch{
		ExpectStatus: []scraper.JobStatus{scraper.JobStatusPending},
		Status:       &running,
	})
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusRunning, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobDistinguishesConflictFromMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	running := scraper.JobStatusRunning
	mock.ExpectQuery("UPDATE scraping_jobs SET").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT job_id").
		WithArgs("job-1").
		WillReturnRows(jobRow(mock, "job-1", scraper.JobStatusCancelled, 10, nil))

	job, err := store.UpdateJob(context.Background(), "job-1", scraper.JobPatch{
		ExpectStatus: []scraper.JobStatus{scraper.JobStatusPending},
		Status:       &running,
	})
	require.ErrorIs(t, err, scraper.ErrStatusConflict)
	require.Equal(t, scraper.JobStatusCancelled, job.Status)

	mock.ExpectQuery("UPDATE scraping_jobs SET").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT job_id").WithArgs("gone").WillReturnError(pgx.ErrNoRows)
	_, err = store.UpdateJob(context.Background(), "gone", scraper.JobPatch{Status: &running})
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCompaniesChunksByBatchSize(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	companies := make([]scraper.Company, 23)
	for i := range companies {
		companies[i] = scraper.Company{
			JobID:         "job-1",
			TaxCode:       fmt.Sprintf("01%08d", i),
			Name:          fmt.Sprintf("Company %d", i),
			SourceWebsite: "infodoanhnghiep",
		}
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO companies").WillReturnResult(pgxmock.NewResult("INSERT", 10))
	mock.ExpectExec("INSERT INTO companies").WillReturnResult(pgxmock.NewResult("INSERT", 10))
	mock.ExpectExec("INSERT INTO companies").WillReturnResult(pgxmock.NewResult("INSERT", 3))
	mock.ExpectCommit()

	require.NoError(t, store.InsertCompanies(context.Background(), companies))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCompaniesCollapsesRepeatedTaxCodes(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	companies := []scraper.Company{
		{JobID: "job-1", TaxCode: "0101", Name: "Alpha (infodoanhnghiep)", SourceWebsite: "infodoanhnghiep"},
		{JobID: "job-1", TaxCode: "0202", Name: "Beta", SourceWebsite: "infodoanhnghiep"},
		{JobID: "job-1", TaxCode: "0101", Name: "Alpha (hsctvn)", SourceWebsite: "hsctvn"},
	}
	_, want := companyInsert([]scraper.Company{companies[2], companies[1]})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO companies").
		WithArgs(want...).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, store.InsertCompanies(context.Background(), companies))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobWritesCompaniesInOneTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	completed := scraper.JobStatusCompleted
	patch := scraper.JobPatch{
		ExpectStatus: []scraper.JobStatus{scraper.JobStatusRunning},
		Status:       &completed,
		Companies:    []scraper.Company{{JobID: "job-1", TaxCode: "0101", Name: "Alpha", SourceWebsite: "hsctvn"}},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE scraping_jobs SET").
		WillReturnRows(jobRow(mock, "job-1", scraper.JobStatusCompleted, 100, nil))
	mock.ExpectExec("INSERT INTO companies").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	job, err := store.UpdateJob(context.Background(), "job-1", patch)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCompleted, job.Status)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE scraping_jobs SET").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT job_id").
		WithArgs("job-1").
		WillReturnRows(jobRow(mock, "job-1", scraper.JobStatusPaused, 50, nil))

	job, err = store.UpdateJob(context.Background(), "job-1", patch)
	require.ErrorIs(t, err, scraper.ErrStatusConflict)
	require.Equal(t, scraper.JobStatusPaused, job.Status)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE scraping_jobs SET").
		WillReturnRows(jobRow(mock, "job-1", scraper.JobStatusCompleted, 100, nil))
	mock.ExpectExec("INSERT INTO companies").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = store.UpdateJob(context.Background(), "job-1", patch)
	require.ErrorIs(t, err, scraper.ErrPersistence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCompaniesRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	companies := make([]scraper.Company, 12)
	for i := range companies {
		companies[i] = scraper.Company{JobID: "job-1", TaxCode: fmt.Sprint(i), Name: "x", SourceWebsite: "hsctvn"}
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO companies").WillReturnResult(pgxmock.NewResult("INSERT", 10))
	mock.ExpectExec("INSERT INTO companies").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.InsertCompanies(context.Background(), companies)
	require.ErrorIs(t, err, scraper.ErrPersistence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCompaniesEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	require.NoError(t, store.InsertCompanies(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompanyInsertPlaceholders(t *testing.T) {
	t.Parallel()

	query, args := companyInsert([]scraper.Company{{TaxCode: "a"}, {TaxCode: "b"}})
	require.Len(t, args, 2*companyColumnCount)
	require.Contains(t, query, "$34")
	require.NotContains(t, query, "$35")
	require.Contains(t, query, "ON CONFLICT (job_id, tax_code)")
}

func TestUpdateProxyAppliesTestOutcome(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	blocked := scraper.ProxyStatusBlocked
	rows := mock.NewRows([]string{
		"proxy_id", "proxy_url", "proxy_type", "country", "provider", "username", "password",
		"status", "response_time", "success_rate", "tests_total", "tests_passed",
		"cost_per_request", "last_checked", "created_at", "updated_at",
	}).AddRow(
		"p-1", "http://10.0.0.1:8080", "http", "VN", "", "", "",
		"blocked", int64(10000), 50.0, 2, 1, 0.001, &now, now, now,
	)
	mock.ExpectQuery("UPDATE proxy_pool SET").
		WithArgs(
			"p-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), 1, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), true,
		).
		WillReturnRows(rows)

	p, err := store.UpdateProxy(context.Background(), "p-1", scraper.ProxyPatch{
		Status:       &blocked,
		KeepInactive: true,
		Test:         &scraper.ProxyTestOutcome{Passed: false, ResponseTimeMs: 10000, CheckedAt: now},
	})
	require.NoError(t, err)
	require.Equal(t, scraper.ProxyStatusBlocked, p.Status)
	require.InDelta(t, 50.0, p.SuccessRate, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProxyMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM proxy_pool").
		WithArgs("nope").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.DeleteProxy(context.Background(), "nope")
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTaskUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO captcha_tasks").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.SaveTask(context.Background(), scraper.CaptchaTask{
		ID:      "t-1",
		Kind:    scraper.ChallengeRecaptchaV2,
		Service: scraper.SolverTwoCaptcha,
		Status:  scraper.CaptchaSolved,
		Cost:    0.002,
		Success: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = store.Ping(context.Background())
	require.ErrorIs(t, err, scraper.ErrPersistence)
	require.NoError(t, mock.ExpectationsWereMet())
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

func statusPtr(s scraper.JobStatus) *scraper.JobStatus { return &s }
func intPtr(v int) *int                                { return &v }
func floatPtr(v float64) *float64                      { return &v }

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := scraper.Job{ID: "job-1", Kind: scraper.JobKindRegion, Status: scraper.JobStatusPending, CreatedAt: time.Now()}

	require.NoError(t, store.CreateJob(ctx, job))
	require.ErrorIs(t, store.CreateJob(ctx, job), scraper.ErrPersistence)

	running, err := store.UpdateJob(ctx, job.ID, scraper.JobPatch{
		ExpectStatus: []scraper.JobStatus{scraper.JobStatusPending},
		Status:       statusPtr(scraper.JobStatusRunning),
	})
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	require.Nil(t, running.CompletedAt)

	_, err = store.UpdateJob(ctx, job.ID, scraper.JobPatch{
		Progress:       intPtr(33),
		Cost:           floatPtr(0.002),
		AppendErrorLog: "Failed to scrape from hsctvn.com: boom",
	})
	require.NoError(t, err)

	done, err := store.UpdateJob(ctx, job.ID, scraper.JobPatch{
		ExpectStatus: []scraper.JobStatus{scraper.JobStatusRunning},
		Status:       statusPtr(scraper.JobStatusCompleted),
		Progress:     intPtr(100),
	})
	require.NoError(t, err)
	require.Equal(t, 100, done.Progress)
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, []string{"Failed to scrape from hsctvn.com: boom"}, done.ErrorLogs)
	require.InDelta(t, 0.002, done.Cost, 1e-9)
}

func TestJobStoreGuardConflict(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, scraper.Job{ID: "job-1", Status: scraper.JobStatusCancelled}))

	_, err := store.UpdateJob(ctx, "job-1", scraper.JobPatch{
		ExpectStatus: []scraper.JobStatus{scraper.JobStatusRunning},
		Status:       statusPtr(scraper.JobStatusCompleted),
	})
	require.ErrorIs(t, err, scraper.ErrStatusConflict)

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCancelled, got.Status)

	_, err = store.UpdateJob(ctx, "missing", scraper.JobPatch{})
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestJobStoreProgressNeverDecreases(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, scraper.Job{ID: "job-1", Status: scraper.JobStatusRunning}))

	_, err := store.UpdateJob(ctx, "job-1", scraper.JobPatch{Progress: intPtr(66)})
	require.NoError(t, err)
	got, err := store.UpdateJob(ctx, "job-1", scraper.JobPatch{Progress: intPtr(33)})
	require.NoError(t, err)
	require.Equal(t, 66, got.Progress)

	got, err = store.UpdateJob(ctx, "job-1", scraper.JobPatch{Progress: intPtr(250)})
	require.NoError(t, err)
	require.Equal(t, 100, got.Progress)
}

func TestJobStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, scraper.Job{ID: "job-1", ErrorLogs: []string{"a"}}))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	got.ErrorLogs[0] = "mutated"

	again, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, again.ErrorLogs)
}

func TestJobStoreListFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	for i, status := range []scraper.JobStatus{
		scraper.JobStatusPending, scraper.JobStatusRunning, scraper.JobStatusCompleted, scraper.JobStatusRunning,
	} {
		require.NoError(t, store.CreateJob(ctx, scraper.Job{
			ID:        string(rune('a' + i)),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.ListJobs(ctx, scraper.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "d", all[0].ID)

	orphaned, err := store.ListJobs(ctx, scraper.JobFilter{
		Statuses: []scraper.JobStatus{scraper.JobStatusPending, scraper.JobStatusRunning},
	})
	require.NoError(t, err)
	require.Len(t, orphaned, 3)

	page, err := store.ListJobs(ctx, scraper.JobFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "c", page[0].ID)

	empty, err := store.ListJobs(ctx, scraper.JobFilter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestJobStoreWritesCompaniesWithGuardedPatch(t *testing.T) {
	t.Parallel()

	companies := NewCompanyStore()
	store := NewJobStore(WithCompanyStore(companies))
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, scraper.Job{ID: "job-1", Status: scraper.JobStatusPaused}))
	rows := []scraper.Company{{JobID: "job-1", TaxCode: "0101", Name: "A"}}

	_, err := store.UpdateJob(ctx, "job-1", scraper.JobPatch{
		ExpectStatus: []scraper.JobStatus{scraper.JobStatusRunning},
		Status:       statusPtr(scraper.JobStatusCompleted),
		Companies:    rows,
	})
	require.ErrorIs(t, err, scraper.ErrStatusConflict)
	stored, err := companies.ListCompanies(ctx, "job-1", 0, 0)
	require.NoError(t, err)
	require.Empty(t, stored)

	parked, err := store.UpdateJob(ctx, "job-1", scraper.JobPatch{
		ExpectStatus: []scraper.JobStatus{scraper.JobStatusPaused},
		SourcesDone:  intPtr(2),
		Companies:    rows,
	})
	require.NoError(t, err)
	require.Equal(t, 2, parked.SourcesDone)
	stored, err = companies.ListCompanies(ctx, "job-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestJobStoreWithoutCompanyStoreRejectsCompanies(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, scraper.Job{ID: "job-1", Status: scraper.JobStatusRunning}))
	_, err := store.UpdateJob(ctx, "job-1", scraper.JobPatch{
		Companies: []scraper.Company{{JobID: "job-1", TaxCode: "0101"}},
	})
	require.ErrorIs(t, err, scraper.ErrPersistence)
	require.Zero(t, mustGet(t, store, "job-1").SourcesDone)
}

func mustGet(t *testing.T, store *JobStore, id string) scraper.Job {
	t.Helper()
	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bizregistry-scraper/internal/config"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	cfg.Scraper.Workers = 2
	return &cfg
}

func TestBuild_InMemoryDefaults(t *testing.T) {
	cfg := testConfig(t)

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.Nil(t, app.db)
	require.Nil(t, app.redisQueue)
	require.NotNil(t, app.progressHub)
	require.Equal(t, 2, app.dispatch.Size())
	require.NoError(t, app.ready(context.Background()))

	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	body := `{"jobKind":"region","parameters":{"province":"Ha Noi","limit":10}}`
	app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	jobs, err := app.coordinator.List(context.Background(), scraper.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, cfg.Scraper.DefaultSources, jobs[0].Parameters.Sources)

	require.NoError(t, app.Close(context.Background()))
}

func TestApp_RunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = 0
	cfg.Progress.Enabled = false

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

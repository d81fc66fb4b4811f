package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bizregistry-scraper/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{Kind: progress.KindJobStatus, TS: now, JobID: "job-1", Status: "running"},
		{Kind: progress.KindSourceDone, TS: now, JobID: "job-1", Source: "hsctvn", Records: 40, Cost: 0.004, Dur: 2 * time.Second},
		{Kind: progress.KindSourceFailed, TS: now, JobID: "job-1", Source: "masothue", Note: "HTTP 503"},
		{Kind: progress.KindCaptchaAttempt, TS: now, Service: "2captcha", Status: "solved", Cost: 0.002},
		{Kind: progress.KindProxyTested, TS: now, ProxyID: "p-1", Status: "blocked", Dur: 10 * time.Second},
		{Kind: progress.KindJobStatus, TS: now, JobID: "job-1", Status: "completed"},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobTransitions.WithLabelValues("running")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobTransitions.WithLabelValues("completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sourceRuns.WithLabelValues("hsctvn", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sourceRuns.WithLabelValues("masothue", "failure")))
	require.InDelta(t, 40.0, testutil.ToFloat64(sink.sourceRecords.WithLabelValues("hsctvn")), 1e-9)
	require.InDelta(t, 0.004, testutil.ToFloat64(sink.spend.WithLabelValues("source")), 1e-9)
	require.InDelta(t, 0.002, testutil.ToFloat64(sink.spend.WithLabelValues("captcha")), 1e-9)
	require.Equal(t, 1.0, testutil.ToFloat64(sink.captchaAttempts.WithLabelValues("2captcha", "solved")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.proxyTests.WithLabelValues("blocked")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.proxyDuration, "scraper_proxy_test_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/bizregistry-scraper/internal/progress"
)

// PrometheusSink exports engine activity via Prometheus: job transitions,
// per-source outcomes, proxy probes, CAPTCHA attempts, and spend.
type PrometheusSink struct {
	jobTransitions *prometheus.CounterVec
	jobsRunning    prometheus.Gauge

	sourceRuns     *prometheus.CounterVec
	sourceRecords  *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec

	proxyTests    *prometheus.CounterVec
	proxyDuration prometheus.Histogram

	captchaAttempts *prometheus.CounterVec
	spend           *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_job_transitions_total",
			Help: "Job status transitions partitioned by new status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_jobs_running",
			Help: "Current number of running jobs.",
		}),
		sourceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_source_runs_total",
			Help: "Source pipeline runs partitioned by source and result.",
		}, []string{"source", "result"}),
		sourceRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_source_records_total",
			Help: "Normalized records extracted per source.",
		}, []string{"source"}),
		sourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_source_duration_seconds",
			Help:    "Source pipeline wall time partitioned by source and result.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"source", "result"}),
		proxyTests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_proxy_tests_total",
			Help: "Proxy probes partitioned by resulting status.",
		}, []string{"status"}),
		proxyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_proxy_test_duration_seconds",
			Help:    "Proxy probe latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		captchaAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_captcha_attempts_total",
			Help: "CAPTCHA solve attempts partitioned by provider and final status.",
		}, []string{"service", "status"}),
		spend: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_spend_usd_total",
			Help: "Monetary cost attributed by category.",
		}, []string{"category"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobTransitions,
		s.jobsRunning,
		s.sourceRuns,
		s.sourceRecords,
		s.sourceDuration,
		s.proxyTests,
		s.proxyDuration,
		s.captchaAttempts,
		s.spend,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register notification collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindJobStatus:
		s.handleJobEvent(evt)
	case progress.KindSourceDone:
		s.handleSourceEvent(evt, "success")
	case progress.KindSourceFailed:
		s.handleSourceEvent(evt, "failure")
	case progress.KindProxyTested:
		s.proxyTests.WithLabelValues(labelOr(evt.Status, "unknown")).Inc()
		if evt.Dur > 0 {
			s.proxyDuration.Observe(evt.Dur.Seconds())
		}
	case progress.KindCaptchaAttempt:
		s.captchaAttempts.WithLabelValues(evt.Service, labelOr(evt.Status, "unknown")).Inc()
		if evt.Cost > 0 {
			s.spend.WithLabelValues("captcha").Add(evt.Cost)
		}
	}
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	s.jobTransitions.WithLabelValues(evt.Status).Inc()
	if evt.Status == "running" {
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
		return
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) handleSourceEvent(evt progress.Event, result string) {
	s.sourceRuns.WithLabelValues(evt.Source, result).Inc()
	if evt.Records > 0 {
		s.sourceRecords.WithLabelValues(evt.Source).Add(float64(evt.Records))
	}
	if evt.Dur > 0 {
		s.sourceDuration.WithLabelValues(evt.Source, result).Observe(evt.Dur.Seconds())
	}
	if evt.Cost > 0 {
		s.spend.WithLabelValues("source").Add(evt.Cost)
	}
}

func labelOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

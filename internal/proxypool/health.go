package proxypool

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// HealthSummary aggregates one health-check run. All fields are zero when
// nothing was tested.
type HealthSummary struct {
	Total             int     `json:"total"`
	Active            int     `json:"active"`
	Blocked           int     `json:"blocked"`
	Inactive          int     `json:"inactive"`
	AvgResponseTimeMs float64 `json:"avg_response_time"`
	Batches           int     `json:"batches"`
}

// HealthReport lists per-proxy results in pool order plus the summary.
type HealthReport struct {
	Results []TestResult  `json:"results"`
	Summary HealthSummary `json:"summary"`
}

// HealthCheckAll tests every proxy. Inactive proxies are probed and their
// latency and counters recorded, but they stay inactive. Proxies are split into batches of Config.BatchSize; members of a batch are
// probed concurrently and each is persisted as soon as its own probe ends.
// Config.BatchPause separates consecutive batches. A failing member never
// affects its siblings.
func (m *Manager) HealthCheckAll(ctx context.Context) (HealthReport, error) {
	targets, err := m.store.ListProxies(ctx, scraper.ProxyFilter{})
	if err != nil {
		return HealthReport{}, fmt.Errorf("list proxies: %w", err)
	}

	results := make([]TestResult, len(targets))
	batches := 0
	for start := 0; start < len(targets); start += m.cfg.BatchSize {
		if start > 0 {
			if err := m.sleep(ctx, m.cfg.BatchPause); err != nil {
				return summarize(results[:start], batches), err
			}
		}
		end := min(start+m.cfg.BatchSize, len(targets))
		m.runBatch(ctx, targets[start:end], results[start:end])
		batches++
		m.logger.Debug("proxy health batch complete",
			zap.Int("batch", batches),
			zap.Int("size", end-start))
	}

	report := summarize(results, batches)
	m.logger.Info("proxy health check complete",
		zap.Int("total", report.Summary.Total),
		zap.Int("active", report.Summary.Active),
		zap.Int("blocked", report.Summary.Blocked),
		zap.Int("inactive", report.Summary.Inactive),
		zap.Float64("avg_response_time_ms", report.Summary.AvgResponseTimeMs))
	return report, nil
}

func (m *Manager) runBatch(ctx context.Context, batch []scraper.ProxyServer, out []TestResult) {
	var g errgroup.Group
	for i, p := range batch {
		g.Go(func() error {
			_, result, err := m.test(ctx, p, true)
			if err != nil {
				m.logger.Warn("proxy health persist failed",
					zap.String("proxy_id", p.ID),
					zap.Error(err))
				if result.Error == "" {
					result.Error = err.Error()
				}
			}
			out[i] = result
			return nil
		})
	}
	_ = g.Wait()
}

func summarize(results []TestResult, batches int) HealthReport {
	report := HealthReport{Results: results, Summary: HealthSummary{Batches: batches}}
	if len(results) == 0 {
		report.Results = []TestResult{}
		return report
	}
	var totalMs int64
	for _, r := range results {
		totalMs += r.ResponseTimeMs
		switch r.Status {
		case scraper.ProxyStatusActive:
			report.Summary.Active++
		case scraper.ProxyStatusBlocked:
			report.Summary.Blocked++
		case scraper.ProxyStatusInactive:
			report.Summary.Inactive++
		}
	}
	report.Summary.Total = len(results)
	report.Summary.AvgResponseTimeMs = float64(totalMs) / float64(len(results))
	return report
}

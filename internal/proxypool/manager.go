// Package proxypool owns proxy records and their health state: selection of
// active proxies, live connectivity probes, and batched health checks.
package proxypool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizregistry-scraper/internal/clock/system"
	"github.com/JakeFAU/bizregistry-scraper/internal/progress"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// Defaults for the health check.
const (
	DefaultBatchSize  = 5
	DefaultBatchPause = time.Second
)

// Config controls health-check batching and defaults for new proxies.
type Config struct {
	BatchSize             int
	BatchPause            time.Duration
	DefaultCostPerRequest float64
}

// AddRequest describes a proxy to register.
type AddRequest struct {
	URL            string                `json:"proxy_url"`
	Protocol       scraper.ProxyProtocol `json:"proxy_type"`
	Country        string                `json:"country,omitempty"`
	Provider       string                `json:"provider,omitempty"`
	Username       string                `json:"username,omitempty"`
	Password       string                `json:"password,omitempty"`
	CostPerRequest *float64              `json:"cost_per_request,omitempty"`
}

// UpdateRequest carries admin-editable fields. Status may only be set to
// inactive; reactivation goes through Test.
type UpdateRequest struct {
	Status         *scraper.ProxyStatus `json:"status,omitempty"`
	Country        *string              `json:"country,omitempty"`
	Provider       *string              `json:"provider,omitempty"`
	Username       *string              `json:"username,omitempty"`
	Password       *string              `json:"password,omitempty"`
	CostPerRequest *float64             `json:"cost_per_request,omitempty"`
}

// Manager coordinates proxy records, probes, and notifications.
type Manager struct {
	store  scraper.ProxyStore
	prober Prober
	ids    scraper.IDGenerator
	clock  scraper.Clock
	events progress.Emitter
	cfg    Config
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	pick  func(n int) int
}

// New constructs a Manager.
func New(
	store scraper.ProxyStore,
	prober Prober,
	ids scraper.IDGenerator,
	clock scraper.Clock,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	return &Manager{
		store:  store,
		prober: prober,
		ids:    ids,
		clock:  clock,
		events: progress.OrNop(events),
		cfg:    cfg,
		logger: logger,
		sleep:  system.New().Sleep,
		pick:   rand.IntN,
	}
}

// List returns proxies, optionally filtered by status.
func (m *Manager) List(ctx context.Context, filter scraper.ProxyFilter) ([]scraper.ProxyServer, error) {
	proxies, err := m.store.ListProxies(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	return proxies, nil
}

// Get returns one proxy.
func (m *Manager) Get(ctx context.Context, id string) (scraper.ProxyServer, error) {
	p, err := m.store.GetProxy(ctx, id)
	if err != nil {
		return scraper.ProxyServer{}, fmt.Errorf("get proxy: %w", err)
	}
	return p, nil
}

// Add validates and stores a proxy in the testing state, then tests it once
// so it becomes eligible for selection only after a successful probe.
func (m *Manager) Add(ctx context.Context, req AddRequest) (scraper.ProxyServer, TestResult, error) {
	candidate, err := m.validateAdd(req)
	if err != nil {
		return scraper.ProxyServer{}, TestResult{}, err
	}
	id, err := m.ids.NewID()
	if err != nil {
		return scraper.ProxyServer{}, TestResult{}, fmt.Errorf("generate proxy id: %w", err)
	}
	now := m.clock.Now()
	candidate.ID = id
	candidate.Status = scraper.ProxyStatusTesting
	candidate.CreatedAt = now
	candidate.UpdatedAt = now
	if err := m.store.CreateProxy(ctx, candidate); err != nil {
		return scraper.ProxyServer{}, TestResult{}, fmt.Errorf("create proxy: %w", err)
	}
	m.logger.Info("proxy added",
		zap.String("proxy_id", id),
		zap.String("proxy_type", string(candidate.Protocol)))
	return m.test(ctx, candidate, false)
}

func (m *Manager) validateAdd(req AddRequest) (scraper.ProxyServer, error) {
	p := scraper.ProxyServer{
		URL:      req.URL,
		Protocol: req.Protocol,
		Country:  req.Country,
		Provider: req.Provider,
		Username: req.Username,
		Password: req.Password,
	}
	u, err := ProxyURL(p)
	if err != nil {
		return scraper.ProxyServer{}, err
	}
	scheme := scraper.ProxyProtocol(u.Scheme)
	if !scheme.Valid() {
		return scraper.ProxyServer{}, scraper.Validationf("unsupported proxy scheme %q", u.Scheme)
	}
	if p.Protocol == "" {
		p.Protocol = scheme
	}
	if !p.Protocol.Valid() {
		return scraper.ProxyServer{}, scraper.Validationf("unsupported proxy_type %q", p.Protocol)
	}
	if p.Protocol != scheme {
		return scraper.ProxyServer{}, scraper.Validationf("proxy_type %q does not match URL scheme %q", p.Protocol, u.Scheme)
	}
	p.CostPerRequest = m.cfg.DefaultCostPerRequest
	if req.CostPerRequest != nil {
		if *req.CostPerRequest < 0 {
			return scraper.ProxyServer{}, scraper.Validationf("cost_per_request must be >= 0")
		}
		p.CostPerRequest = *req.CostPerRequest
	}
	return p, nil
}

// Update applies admin edits.
func (m *Manager) Update(ctx context.Context, id string, req UpdateRequest) (scraper.ProxyServer, error) {
	if req.Status != nil && *req.Status != scraper.ProxyStatusInactive {
		return scraper.ProxyServer{}, scraper.Validationf("status may only be set to %q; use the test action to reactivate", scraper.ProxyStatusInactive)
	}
	if req.CostPerRequest != nil && *req.CostPerRequest < 0 {
		return scraper.ProxyServer{}, scraper.Validationf("cost_per_request must be >= 0")
	}
	updated, err := m.store.UpdateProxy(ctx, id, scraper.ProxyPatch{
		Status:         req.Status,
		Country:        req.Country,
		Provider:       req.Provider,
		Username:       req.Username,
		Password:       req.Password,
		CostPerRequest: req.CostPerRequest,
	})
	if err != nil {
		return scraper.ProxyServer{}, fmt.Errorf("update proxy: %w", err)
	}
	return updated, nil
}

// Delete removes a proxy.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteProxy(ctx, id); err != nil {
		return fmt.Errorf("delete proxy: %w", err)
	}
	return nil
}

// Select returns a uniformly random active proxy. ok is false when none is
// active, which callers treat as "go direct".
func (m *Manager) Select(ctx context.Context) (scraper.ProxyServer, bool, error) {
	active, err := m.store.ListProxies(ctx, scraper.ProxyFilter{Status: scraper.ProxyStatusActive})
	if err != nil {
		return scraper.ProxyServer{}, false, fmt.Errorf("list active proxies: %w", err)
	}
	if len(active) == 0 {
		return scraper.ProxyServer{}, false, nil
	}
	return active[m.pick(len(active))], true, nil
}

// Test probes one proxy and persists the outcome. It is the only way back to
// active for an inactive proxy.
func (m *Manager) Test(ctx context.Context, id string) (scraper.ProxyServer, TestResult, error) {
	p, err := m.store.GetProxy(ctx, id)
	if err != nil {
		return scraper.ProxyServer{}, TestResult{}, fmt.Errorf("get proxy: %w", err)
	}
	return m.test(ctx, p, false)
}

// test probes p, classifies it active or blocked, and persists the status,
// latency, counters, and last_checked in one patch. With keepInactive the
// outcome is recorded but an inactive proxy stays inactive.
func (m *Manager) test(ctx context.Context, p scraper.ProxyServer, keepInactive bool) (scraper.ProxyServer, TestResult, error) {
	result := m.prober.Probe(ctx, p)
	result.ProxyID = p.ID
	status := scraper.ProxyStatusBlocked
	if result.Success {
		status = scraper.ProxyStatusActive
	}
	result.Status = status

	checkedAt := m.clock.Now()
	updated, err := m.store.UpdateProxy(ctx, p.ID, scraper.ProxyPatch{
		Status:       &status,
		KeepInactive: keepInactive,
		Test: &scraper.ProxyTestOutcome{
			Passed:         result.Success,
			ResponseTimeMs: result.ResponseTimeMs,
			CheckedAt:      checkedAt,
		},
	})
	if err != nil {
		return scraper.ProxyServer{}, result, fmt.Errorf("persist proxy test: %w", err)
	}
	status = updated.Status
	result.Status = status

	m.events.Emit(progress.Event{
		Kind:    progress.KindProxyTested,
		TS:      checkedAt,
		ProxyID: p.ID,
		Status:  string(status),
		Dur:     time.Duration(result.ResponseTimeMs) * time.Millisecond,
		Note:    result.Error,
	})
	if status == scraper.ProxyStatusBlocked && p.Status != scraper.ProxyStatusBlocked {
		m.events.Emit(progress.Event{
			Kind:    progress.KindProxyBlocked,
			TS:      checkedAt,
			ProxyID: p.ID,
			Status:  string(status),
			Note:    result.Error,
		})
		m.logger.Warn("proxy blocked",
			zap.String("proxy_id", p.ID),
			zap.String("error", result.Error))
	}
	return updated, result, nil
}

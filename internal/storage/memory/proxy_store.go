package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// ProxyStore keeps proxy records in memory.
type ProxyStore struct {
	mu      sync.RWMutex
	proxies map[string]scraper.ProxyServer
	now     func() time.Time
}

// NewProxyStore constructs a ProxyStore.
func NewProxyStore() *ProxyStore {
	return &ProxyStore{
		proxies: make(map[string]scraper.ProxyServer),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateProxy stores a new proxy record.
func (s *ProxyStore) CreateProxy(_ context.Context, proxy scraper.ProxyServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proxies[proxy.ID]; exists {
		return fmt.Errorf("%w: proxy %s already exists", scraper.ErrPersistence, proxy.ID)
	}
	if proxy.UpdatedAt.IsZero() {
		proxy.UpdatedAt = s.now()
	}
	s.proxies[proxy.ID] = proxy
	return nil
}

// GetProxy fetches one proxy.
func (s *ProxyStore) GetProxy(_ context.Context, proxyID string) (scraper.ProxyServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proxy, ok := s.proxies[proxyID]
	if !ok {
		return scraper.ProxyServer{}, fmt.Errorf("%w: proxy %s", scraper.ErrNotFound, proxyID)
	}
	return proxy, nil
}

// UpdateProxy applies patch atomically.
func (s *ProxyStore) UpdateProxy(_ context.Context, proxyID string, patch scraper.ProxyPatch) (scraper.ProxyServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proxy, ok := s.proxies[proxyID]
	if !ok {
		return scraper.ProxyServer{}, fmt.Errorf("%w: proxy %s", scraper.ErrNotFound, proxyID)
	}
	applyProxyPatch(&proxy, patch)
	proxy.UpdatedAt = s.now()
	s.proxies[proxyID] = proxy
	return proxy, nil
}

// DeleteProxy removes a proxy.
func (s *ProxyStore) DeleteProxy(_ context.Context, proxyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proxies[proxyID]; !ok {
		return fmt.Errorf("%w: proxy %s", scraper.ErrNotFound, proxyID)
	}
	delete(s.proxies, proxyID)
	return nil
}

// ListProxies returns proxies oldest first, optionally filtered by status.
func (s *ProxyStore) ListProxies(_ context.Context, filter scraper.ProxyFilter) ([]scraper.ProxyServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.ProxyServer, 0, len(s.proxies))
	for _, p := range s.proxies {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func applyProxyPatch(p *scraper.ProxyServer, patch scraper.ProxyPatch) {
	if patch.Status != nil && !(patch.KeepInactive && p.Status == scraper.ProxyStatusInactive) {
		p.Status = *patch.Status
	}
	if patch.Country != nil {
		p.Country = *patch.Country
	}
	if patch.Provider != nil {
		p.Provider = *patch.Provider
	}
	if patch.Username != nil {
		p.Username = *patch.Username
	}
	if patch.Password != nil {
		p.Password = *patch.Password
	}
	if patch.CostPerRequest != nil {
		p.CostPerRequest = *patch.CostPerRequest
	}
	if t := patch.Test; t != nil {
		p.TestsTotal++
		if t.Passed {
			p.TestsPassed++
		}
		p.SuccessRate = float64(p.TestsPassed) / float64(p.TestsTotal) * 100
		p.ResponseTimeMs = t.ResponseTimeMs
		p.LastChecked = pointerTime(t.CheckedAt)
	}
}

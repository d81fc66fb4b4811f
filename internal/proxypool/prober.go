package proxypool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// DefaultTestURL is the echo endpoint probed through each proxy.
const DefaultTestURL = "https://httpbin.org/ip"

// DefaultTestTimeout bounds a single probe.
const DefaultTestTimeout = 10 * time.Second

// maxProbeBody caps how much of the echo response is read.
const maxProbeBody = 64 << 10

// TestResult is the outcome of one connectivity probe.
type TestResult struct {
	ProxyID        string              `json:"proxy_id"`
	Success        bool                `json:"success"`
	ResponseTimeMs int64               `json:"response_time"`
	Status         scraper.ProxyStatus `json:"status"`
	Error          string              `json:"error,omitempty"`
}

// Prober performs a live connectivity check through a proxy.
type Prober interface {
	Probe(ctx context.Context, p scraper.ProxyServer) TestResult
}

// HTTPProber fetches an echo endpoint through the proxy's tunnel.
type HTTPProber struct {
	testURL string
	timeout time.Duration
	tunnels map[scraper.ProxyProtocol]Tunnel
	now     func() time.Time
}

// NewHTTPProber constructs a prober. Empty values fall back to the defaults.
func NewHTTPProber(testURL string, timeout time.Duration, tunnels map[scraper.ProxyProtocol]Tunnel) *HTTPProber {
	if testURL == "" {
		testURL = DefaultTestURL
	}
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	if tunnels == nil {
		tunnels = DefaultTunnels()
	}
	return &HTTPProber{testURL: testURL, timeout: timeout, tunnels: tunnels, now: time.Now}
}

// Probe succeeds on a 2xx response with a non-empty body; anything else,
// including the timeout, is a failure. Latency is measured either way.
func (p *HTTPProber) Probe(ctx context.Context, server scraper.ProxyServer) TestResult {
	start := p.now()
	result := TestResult{ProxyID: server.ID}
	err := p.probe(ctx, server)
	result.ResponseTimeMs = p.now().Sub(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

func (p *HTTPProber) probe(ctx context.Context, server scraper.ProxyServer) error {
	tunnel, ok := p.tunnels[server.Protocol]
	if !ok {
		return fmt.Errorf("unsupported proxy type %q", server.Protocol)
	}
	transport, err := tunnel.Transport(server)
	if err != nil {
		return err
	}
	defer transport.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	client := &http.Client{Timeout: p.timeout, Transport: transport}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.testURL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return fmt.Errorf("read probe body: %w", err)
	}
	if len(body) == 0 {
		return fmt.Errorf("empty probe response")
	}
	return nil
}

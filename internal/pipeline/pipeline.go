// Package pipeline runs one source of one job: build the search URL, pick a
// proxy, fetch, resolve CAPTCHA gates, archive the page, and extract records.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizregistry-scraper/internal/captcha"
	"github.com/JakeFAU/bizregistry-scraper/internal/metrics"
	"github.com/JakeFAU/bizregistry-scraper/internal/proxypool"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
	"github.com/JakeFAU/bizregistry-scraper/internal/source"
)

// ProxySelector hands out an active proxy, if any.
type ProxySelector interface {
	Select(ctx context.Context) (scraper.ProxyServer, bool, error)
}

// Solver resolves a CAPTCHA challenge.
type Solver interface {
	Solve(ctx context.Context, req captcha.SolveRequest) (captcha.SolveResult, error)
}

// Limiter paces requests per source.
type Limiter interface {
	Wait(ctx context.Context, source string) error
}

// Config controls request headers and archiving.
type Config struct {
	Headers       http.Header
	Archive       bool
	ArchivePrefix string
	ContentType   string
}

// Request is one source run for one job.
type Request struct {
	JobID         string
	Source        string
	Params        scraper.JobParameters
	UseProxy      bool
	SolveCaptcha  bool
	SolverService scraper.SolverService
}

// Result is what a source run produced. Cost and CaptchaSolved are
// meaningful even when Run also returns an error.
type Result struct {
	Records       []scraper.Company
	Cost          float64
	CaptchaSolved int
	URL           string
	ProxyID       string
	ArchiveURI    string
}

// Pipeline executes source runs. Proxies, solver, limiter, and archive are
// optional collaborators.
type Pipeline struct {
	sources  *source.Registry
	fetcher  scraper.Fetcher
	proxies  ProxySelector
	solver   Solver
	detector *captcha.Detector
	limiter  Limiter
	blobs    scraper.BlobStore
	hasher   scraper.Hasher
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Pipeline.
func New(
	sources *source.Registry,
	fetcher scraper.Fetcher,
	proxies ProxySelector,
	solver Solver,
	detector *captcha.Detector,
	limiter Limiter,
	blobs scraper.BlobStore,
	hasher scraper.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	if detector == nil {
		detector = captcha.NewDetector(nil)
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Pipeline{
		sources:  sources,
		fetcher:  fetcher,
		proxies:  proxies,
		solver:   solver,
		detector: detector,
		limiter:  limiter,
		blobs:    blobs,
		hasher:   hasher,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run scrapes one source. It fails when the source is unknown, the fetch
// fails or returns non-2xx, or a CAPTCHA blocks the page and cannot be
// solved.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	var res Result
	src, err := p.sources.Lookup(req.Source)
	if err != nil {
		return res, err
	}
	target, err := src.BuildURL(req.Params)
	if err != nil {
		return res, err
	}
	res.URL = target

	fetchReq := scraper.FetchRequest{JobID: req.JobID, URL: target, Headers: p.cfg.Headers.Clone()}
	if req.UseProxy {
		p.attachProxy(ctx, req, &fetchReq, &res)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, req.Source); err != nil {
			return res, err
		}
	}

	resp, err := p.fetcher.Fetch(ctx, fetchReq)
	if err != nil {
		metrics.ObserveFetch(req.Source, 0, 0)
		if ctx.Err() != nil {
			return res, fmt.Errorf("fetch %s: %w", req.Source, err)
		}
		return res, fmt.Errorf("%w: %w", scraper.ErrNetwork, err)
	}
	metrics.ObserveFetch(req.Source, resp.StatusCode, len(resp.Body))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.Status
		if status == "" {
			status = http.StatusText(resp.StatusCode)
		}
		return res, fmt.Errorf("%w: HTTP %d: %s", scraper.ErrNetwork, resp.StatusCode, status)
	}

	res.ArchiveURI = p.archive(ctx, req, resp.Body)

	if p.detector.Detect(resp.Body) {
		if err := p.resolveCaptcha(ctx, req, target, resp.Body, &res); err != nil {
			return res, err
		}
	}

	records, err := src.Extractor.Extract(ctx, source.Document{Source: req.Source, URL: target, Body: resp.Body})
	if err != nil {
		return res, fmt.Errorf("extract %s: %w", req.Source, err)
	}
	for i := range records {
		records[i].SourceWebsite = req.Source
		records[i].JobID = req.JobID
	}
	res.Records = records

	p.logger.Debug("source scraped",
		zap.String("job_id", req.JobID),
		zap.String("source", req.Source),
		zap.Int("records", len(records)),
		zap.Float64("cost", res.Cost))
	return res, nil
}

// attachProxy routes the fetch through a random active proxy. An empty or
// unreachable pool degrades to a direct fetch.
func (p *Pipeline) attachProxy(ctx context.Context, req Request, fetchReq *scraper.FetchRequest, res *Result) {
	if p.proxies == nil {
		return
	}
	proxy, ok, err := p.proxies.Select(ctx)
	if err != nil {
		p.logger.Warn("proxy selection failed, fetching directly",
			zap.String("job_id", req.JobID), zap.String("source", req.Source), zap.Error(err))
		return
	}
	if !ok {
		p.logger.Debug("no active proxies, fetching directly",
			zap.String("job_id", req.JobID), zap.String("source", req.Source))
		return
	}
	u, err := proxypool.ProxyURL(proxy)
	if err != nil {
		p.logger.Warn("unusable proxy record, fetching directly",
			zap.String("proxy_id", proxy.ID), zap.Error(err))
		return
	}
	fetchReq.ProxyURL = u.String()
	res.ProxyID = proxy.ID
	res.Cost += proxy.CostPerRequest
}

func (p *Pipeline) resolveCaptcha(ctx context.Context, req Request, pageURL string, body []byte, res *Result) error {
	if !req.SolveCaptcha {
		return fmt.Errorf("%w: %s", scraper.ErrCaptchaBlocked, req.Source)
	}
	if p.solver == nil {
		return fmt.Errorf("%w: solver disabled", scraper.ErrNoProviderConfigured)
	}
	challenge := p.detector.Inspect(body, pageURL)
	solved, err := p.solver.Solve(ctx, captcha.SolveRequest{
		Kind:     challenge.Kind,
		SiteKey:  challenge.SiteKey,
		ImageURL: challenge.ImageURL,
		PageURL:  pageURL,
		Service:  req.SolverService,
		JobID:    req.JobID,
	})
	res.Cost += solved.Cost
	if err != nil {
		return fmt.Errorf("solve captcha on %s: %w", req.Source, err)
	}
	res.CaptchaSolved++
	return nil
}

// archive stores the raw page at <prefix>/<job_id>/<source>/<sha256>.html.
// Failures are logged and never fail the run.
func (p *Pipeline) archive(ctx context.Context, req Request, body []byte) string {
	if !p.cfg.Archive || p.blobs == nil || p.hasher == nil {
		return ""
	}
	hash, err := p.hasher.Hash(body)
	if err != nil {
		p.logger.Warn("hash page failed", zap.String("job_id", req.JobID), zap.Error(err))
		return ""
	}
	path := buildBlobPath(p.cfg.ArchivePrefix, req.JobID, req.Source, hash)
	uri, err := p.blobs.PutObject(ctx, path, p.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("archive page failed",
				zap.String("job_id", req.JobID),
				zap.String("source", req.Source),
				zap.String("path", path),
				zap.Error(err))
		}
		return ""
	}
	return uri
}

func buildBlobPath(prefix, jobID, sourceName, hash string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.html", jobID, sourceName, hash)
	}
	return fmt.Sprintf("%s/%s/%s/%s.html", prefix, jobID, sourceName, hash)
}

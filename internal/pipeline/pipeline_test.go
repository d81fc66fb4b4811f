package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bizregistry-scraper/internal/captcha"
	"github.com/JakeFAU/bizregistry-scraper/internal/hash/sha256"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
	"github.com/JakeFAU/bizregistry-scraper/internal/source"
	"github.com/JakeFAU/bizregistry-scraper/internal/storage/memory"
)

const listingPage = `<html><body>
<div class="company-item"><h3>CÔNG TY TNHH AN PHÁT</h3><p class="tax-code">MST: 0101-234-567</p></div>
<div class="company-item"><h3>CÔNG TY CP BÌNH MINH</h3><p class="tax-code">MST: 0108765432</p></div>
</body></html>`

const challengePage = `<html><body><div class="g-recaptcha" data-sitekey="site-key-1"></div></body></html>`

type fakeFetcher struct {
	resp     scraper.FetchResponse
	err      error
	requests []scraper.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req scraper.FetchRequest) (scraper.FetchResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return scraper.FetchResponse{}, f.err
	}
	return f.resp, nil
}

type fakeProxies struct {
	proxy scraper.ProxyServer
	ok    bool
	err   error
}

func (f fakeProxies) Select(context.Context) (scraper.ProxyServer, bool, error) {
	return f.proxy, f.ok, f.err
}

type fakeSolver struct {
	result captcha.SolveResult
	err    error
	reqs   []captcha.SolveRequest
}

func (f *fakeSolver) Solve(_ context.Context, req captcha.SolveRequest) (captcha.SolveResult, error) {
	f.reqs = append(f.reqs, req)
	return f.result, f.err
}

type countingLimiter struct{ waits []string }

func (l *countingLimiter) Wait(_ context.Context, src string) error {
	l.waits = append(l.waits, src)
	return nil
}

func okResponse(body string) scraper.FetchResponse {
	return scraper.FetchResponse{StatusCode: http.StatusOK, Status: "OK", Body: []byte(body)}
}

func newPipeline(fetcher scraper.Fetcher, proxies ProxySelector, solver Solver, opts ...func(*Pipeline)) *Pipeline {
	p := New(source.Builtin(), fetcher, proxies, solver, nil, nil, nil, nil, Config{}, nil)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func TestRunExtractsAndStampsRecords(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{resp: okResponse(listingPage)}
	limiter := &countingLimiter{}
	p := newPipeline(fetcher, nil, nil, func(p *Pipeline) { p.limiter = limiter })

	res, err := p.Run(context.Background(), Request{
		JobID:  "job-1",
		Source: source.InfoDoanhNghiep,
		Params: scraper.JobParameters{Province: "Hà Nội"},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, "0101234567", res.Records[0].TaxCode)
	for _, rec := range res.Records {
		require.Equal(t, "job-1", rec.JobID)
		require.Equal(t, source.InfoDoanhNghiep, rec.SourceWebsite)
	}
	require.Zero(t, res.Cost)
	require.Zero(t, res.CaptchaSolved)
	require.Equal(t, []string{source.InfoDoanhNghiep}, limiter.waits)
	require.Len(t, fetcher.requests, 1)
	require.Contains(t, fetcher.requests[0].URL, "https://infodoanhnghiep.com/tim-kiem?province=")
	require.Empty(t, fetcher.requests[0].ProxyURL)
}

func TestRunUnknownSource(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	_, err := newPipeline(fetcher, nil, nil).Run(context.Background(), Request{Source: "example.org"})
	require.ErrorIs(t, err, scraper.ErrUnsupportedSource)
	require.Empty(t, fetcher.requests)
}

func TestRunUsesProxyAndChargesIt(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{resp: okResponse(listingPage)}
	proxies := fakeProxies{ok: true, proxy: scraper.ProxyServer{
		ID:             "px-1",
		URL:            "10.0.0.7:3128",
		Protocol:       scraper.ProxyHTTP,
		Username:       "u",
		Password:       "p",
		CostPerRequest: 0.0004,
	}}

	res, err := newPipeline(fetcher, proxies, nil).Run(context.Background(), Request{
		Source:   source.HSCTVN,
		UseProxy: true,
	})
	require.NoError(t, err)
	require.Equal(t, "px-1", res.ProxyID)
	require.InDelta(t, 0.0004, res.Cost, 1e-12)
	require.Equal(t, "http://u:p@10.0.0.7:3128", fetcher.requests[0].ProxyURL)
}

func TestRunWithoutActiveProxyFetchesDirectly(t *testing.T) {
	t.Parallel()

	for name, proxies := range map[string]fakeProxies{
		"empty pool":   {},
		"store failed": {err: errors.New("db down")},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fetcher := &fakeFetcher{resp: okResponse(listingPage)}
			res, err := newPipeline(fetcher, proxies, nil).Run(context.Background(), Request{
				Source:   source.MaSoThue,
				UseProxy: true,
			})
			require.NoError(t, err)
			require.Empty(t, res.ProxyID)
			require.Empty(t, fetcher.requests[0].ProxyURL)
			require.Zero(t, res.Cost)
		})
	}
}

func TestRunFetchFailures(t *testing.T) {
	t.Parallel()

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()
		fetcher := &fakeFetcher{err: errors.New("dial tcp: connection refused")}
		_, err := newPipeline(fetcher, nil, nil).Run(context.Background(), Request{Source: source.HSCTVN})
		require.ErrorIs(t, err, scraper.ErrNetwork)
		require.Contains(t, err.Error(), "connection refused")
	})

	t.Run("non-2xx", func(t *testing.T) {
		t.Parallel()
		fetcher := &fakeFetcher{resp: scraper.FetchResponse{StatusCode: http.StatusServiceUnavailable, Body: []byte("busy")}}
		_, err := newPipeline(fetcher, nil, nil).Run(context.Background(), Request{Source: source.HSCTVN})
		require.ErrorIs(t, err, scraper.ErrNetwork)
		require.Contains(t, err.Error(), "HTTP 503: Service Unavailable")
	})
}

func TestRunCaptchaBlockedWhenSolvingDisabled(t *testing.T) {
	t.Parallel()

	solver := &fakeSolver{}
	fetcher := &fakeFetcher{resp: okResponse(challengePage)}
	_, err := newPipeline(fetcher, nil, solver).Run(context.Background(), Request{Source: source.HSCTVN})
	require.ErrorIs(t, err, scraper.ErrCaptchaBlocked)
	require.Empty(t, solver.reqs)
}

func TestRunSolvesCaptcha(t *testing.T) {
	t.Parallel()

	page := challengePage + listingPage
	solver := &fakeSolver{result: captcha.SolveResult{Success: true, Solution: "tok", Cost: 0.002}}
	fetcher := &fakeFetcher{resp: okResponse(page)}

	res, err := newPipeline(fetcher, nil, solver).Run(context.Background(), Request{
		JobID:         "job-2",
		Source:        source.InfoDoanhNghiep,
		SolveCaptcha:  true,
		SolverService: scraper.SolverAntiCaptcha,
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.CaptchaSolved)
	require.InDelta(t, 0.002, res.Cost, 1e-12)
	require.Len(t, res.Records, 2)

	require.Len(t, solver.reqs, 1)
	got := solver.reqs[0]
	require.Equal(t, scraper.ChallengeRecaptchaV2, got.Kind)
	require.Equal(t, "site-key-1", got.SiteKey)
	require.Equal(t, scraper.SolverAntiCaptcha, got.Service)
	require.Equal(t, "job-2", got.JobID)
	require.True(t, strings.HasPrefix(got.PageURL, "https://infodoanhnghiep.com/tim-kiem"))
}

func TestRunFailedSolveKeepsCost(t *testing.T) {
	t.Parallel()

	solver := &fakeSolver{
		result: captcha.SolveResult{Cost: captcha.DefaultFailedAttemptCost},
		err:    scraper.ErrSolveTimeout,
	}
	fetcher := &fakeFetcher{resp: okResponse(challengePage + listingPage)}

	res, err := newPipeline(fetcher, nil, solver).Run(context.Background(), Request{
		Source:       source.InfoDoanhNghiep,
		SolveCaptcha: true,
	})
	require.ErrorIs(t, err, scraper.ErrSolveTimeout)
	require.InDelta(t, captcha.DefaultFailedAttemptCost, res.Cost, 1e-12)
	require.Zero(t, res.CaptchaSolved)
	require.Empty(t, res.Records)
}

func TestRunArchivesPage(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	fetcher := &fakeFetcher{resp: okResponse(listingPage)}
	p := New(source.Builtin(), fetcher, nil, nil, nil, nil, blobs, sha256.New(),
		Config{Archive: true, ArchivePrefix: "/pages/"}, nil)

	res, err := p.Run(context.Background(), Request{JobID: "job-3", Source: source.InfoDoanhNghiep})
	require.NoError(t, err)

	digest, err := sha256.New().Hash([]byte(listingPage))
	require.NoError(t, err)
	path := "pages/job-3/infodoanhnghiep.com/" + digest + ".html"
	require.Equal(t, "memory://"+path, res.ArchiveURI)
	stored, ok := blobs.Object(path)
	require.True(t, ok)
	require.Equal(t, listingPage, string(stored))
}

type brokenStore struct{}

func (brokenStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestRunArchiveFailureIsAbsorbed(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{resp: okResponse(listingPage)}
	p := newPipeline(fetcher, nil, nil, func(p *Pipeline) {
		p.blobs = brokenStore{}
		p.hasher = sha256.New()
		p.cfg.Archive = true
	})
	res, err := p.Run(context.Background(), Request{Source: source.InfoDoanhNghiep})
	require.NoError(t, err)
	require.Empty(t, res.ArchiveURI)
	require.Len(t, res.Records, 2)
}

func TestBuildBlobPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "j/hsctvn.com/abc.html", buildBlobPath("", "j", "hsctvn.com", "abc"))
	require.Equal(t, "raw/j/hsctvn.com/abc.html", buildBlobPath("/raw/", "j", "hsctvn.com", "abc"))
}

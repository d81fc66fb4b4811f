// Package source names the business registries a job can scrape, builds
// their search URLs, and turns fetched pages into company records.
package source

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// Built-in registry names.
const (
	InfoDoanhNghiep = "infodoanhnghiep.com"
	HSCTVN          = "hsctvn.com"
	MaSoThue        = "masothue.com"
)

// DefaultNames lists the sources a job uses when it names none.
var DefaultNames = []string{InfoDoanhNghiep, HSCTVN, MaSoThue}

// Document is one fetched search-result page.
type Document struct {
	Source string
	URL    string
	Body   []byte
}

// Extractor turns a fetched page into normalized company records.
type Extractor interface {
	Extract(ctx context.Context, doc Document) ([]scraper.Company, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, doc Document) ([]scraper.Company, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, doc Document) ([]scraper.Company, error) {
	return f(ctx, doc)
}

// Source pairs a registry's search endpoint with its extractor.
type Source struct {
	Name      string
	SearchURL string
	Extractor Extractor
}

// BuildURL applies the job's region and industry filters to the search URL.
func (s Source) BuildURL(params scraper.JobParameters) (string, error) {
	u, err := url.Parse(s.SearchURL)
	if err != nil {
		return "", fmt.Errorf("parse search url for %s: %w", s.Name, err)
	}
	q := u.Query()
	if p := strings.TrimSpace(params.Province); p != "" {
		q.Set("province", p)
	}
	if code := strings.TrimSpace(params.IndustryCode); code != "" {
		q.Set("industry", code)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Registry maps source names to sources. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry builds a Registry from sources; later duplicates win.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		r.sources[s.Name] = s
	}
	return r
}

// Register adds or replaces a source.
func (r *Registry) Register(s Source) error {
	if strings.TrimSpace(s.Name) == "" {
		return scraper.Validationf("source name is required")
	}
	if s.Extractor == nil {
		return scraper.Validationf("source %s has no extractor", s.Name)
	}
	if _, err := url.ParseRequestURI(s.SearchURL); err != nil {
		return scraper.Validationf("source %s has invalid search url %q", s.Name, s.SearchURL)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name] = s
	return nil
}

// Lookup returns the named source or ErrUnsupportedSource.
func (r *Registry) Lookup(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	if !ok {
		return Source{}, fmt.Errorf("%w: %s", scraper.ErrUnsupportedSource, name)
	}
	return s, nil
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a Registry holding the three Vietnamese business
// registries with their default selector extractors.
func Builtin() *Registry {
	return NewRegistry(
		Source{
			Name:      InfoDoanhNghiep,
			SearchURL: "https://infodoanhnghiep.com/tim-kiem",
			Extractor: NewSelectorExtractor(InfoDoanhNghiep, Selectors{
				Item:           "div.company-item",
				Name:           "h3",
				TaxCode:        ".tax-code, .mst",
				Address:        ".address",
				Representative: ".representative",
			}),
		},
		Source{
			Name:      HSCTVN,
			SearchURL: "https://hsctvn.com/search",
			Extractor: NewSelectorExtractor(HSCTVN, Selectors{
				Item:           "ul.hsdn > li",
				Name:           "h3 a",
				TaxCode:        ".mst",
				Address:        ".dc",
				Representative: ".ddpl",
			}),
		},
		Source{
			Name:      MaSoThue,
			SearchURL: "https://masothue.com/tra-cuu",
			Extractor: NewSelectorExtractor(MaSoThue, Selectors{
				Item:           "div.tax-listing > div",
				Name:           "h3 a",
				TaxCode:        "td[itemprop='taxID'], .tax-code",
				Address:        "address",
				Representative: ".legal-represent",
			}),
		},
	)
}

package source

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// Selectors are the CSS selectors a SelectorExtractor reads. Item scopes one
// company; the rest are evaluated inside it. Empty optional selectors are
// skipped.
type Selectors struct {
	Item           string
	Name           string
	TaxCode        string
	Address        string
	Representative string
	Phone          string
	Status         string
}

// SelectorExtractor is a goquery extractor driven by Selectors.
type SelectorExtractor struct {
	source string
	sel    Selectors
}

// NewSelectorExtractor builds an extractor that stamps records with source.
func NewSelectorExtractor(source string, sel Selectors) *SelectorExtractor {
	return &SelectorExtractor{source: source, sel: sel}
}

var (
	taxCodeLabel = regexp.MustCompile(`(?i)^\s*(mst|mã số thuế)\s*:?\s*`)
	taxCodeChars = regexp.MustCompile(`[^0-9]`)
)

// NormalizeTaxCode strips labels, dashes, and whitespace from a tax code.
func NormalizeTaxCode(raw string) string {
	return taxCodeChars.ReplaceAllString(taxCodeLabel.ReplaceAllString(raw, ""), "")
}

// Extract parses doc and returns one company per item carrying both a name
// and a tax code, in document order.
func (e *SelectorExtractor) Extract(_ context.Context, doc Document) ([]scraper.Company, error) {
	if e.sel.Item == "" || e.sel.Name == "" || e.sel.TaxCode == "" {
		return nil, scraper.Validationf("extractor for %s needs item, name and tax code selectors", e.source)
	}
	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s document: %w", e.source, err)
	}

	var out []scraper.Company
	parsed.Find(e.sel.Item).Each(func(_ int, item *goquery.Selection) {
		name := text(item, e.sel.Name)
		taxCode := NormalizeTaxCode(text(item, e.sel.TaxCode))
		if name == "" || taxCode == "" {
			return
		}
		out = append(out, scraper.Company{
			TaxCode:             taxCode,
			Name:                name,
			Address:             stripLabel(text(item, e.sel.Address)),
			LegalRepresentative: stripLabel(text(item, e.sel.Representative)),
			Phone:               stripLabel(text(item, e.sel.Phone)),
			BusinessStatus:      stripLabel(text(item, e.sel.Status)),
			SourceWebsite:       e.source,
		})
	})
	return out, nil
}

func text(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(item.Find(selector).First().Text()), " ")
}

// stripLabel drops a leading "Label:" prefix such as "Địa chỉ:".
func stripLabel(s string) string {
	if head, tail, ok := strings.Cut(s, ":"); ok && len([]rune(head)) <= 24 && !strings.ContainsAny(head, "0123456789") {
		return strings.TrimSpace(tail)
	}
	return s
}

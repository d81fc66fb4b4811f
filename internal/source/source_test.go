package source

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

func TestBuildURL(t *testing.T) {
	t.Parallel()

	reg := Builtin()
	tests := []struct {
		source string
		params scraper.JobParameters
		path   string
		query  url.Values
	}{
		{
			source: InfoDoanhNghiep,
			params: scraper.JobParameters{Province: "Hà Nội"},
			path:   "/tim-kiem",
			query:  url.Values{"province": {"Hà Nội"}},
		},
		{
			source: HSCTVN,
			params: scraper.JobParameters{IndustryCode: "4659"},
			path:   "/search",
			query:  url.Values{"industry": {"4659"}},
		},
		{
			source: MaSoThue,
			params: scraper.JobParameters{Province: "Đà Nẵng", IndustryCode: "6201"},
			path:   "/tra-cuu",
			query:  url.Values{"province": {"Đà Nẵng"}, "industry": {"6201"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			t.Parallel()
			src, err := reg.Lookup(tt.source)
			require.NoError(t, err)
			raw, err := src.BuildURL(tt.params)
			require.NoError(t, err)
			u, err := url.Parse(raw)
			require.NoError(t, err)
			require.Equal(t, tt.source, u.Host)
			require.Equal(t, tt.path, u.Path)
			require.Equal(t, tt.query, u.Query())
		})
	}
}

func TestRegistryLookupUnknown(t *testing.T) {
	t.Parallel()

	_, err := Builtin().Lookup("yellowpages.vn")
	require.ErrorIs(t, err, scraper.ErrUnsupportedSource)
	require.Contains(t, err.Error(), "yellowpages.vn")
}

func TestRegistryRegister(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	noop := ExtractorFunc(func(context.Context, Document) ([]scraper.Company, error) { return nil, nil })

	require.ErrorIs(t, reg.Register(Source{SearchURL: "https://a.test"}), scraper.ErrValidation)
	require.ErrorIs(t, reg.Register(Source{Name: "a.test", SearchURL: "https://a.test"}), scraper.ErrValidation)
	require.ErrorIs(t, reg.Register(Source{Name: "a.test", SearchURL: "not a url", Extractor: noop}), scraper.ErrValidation)
	require.NoError(t, reg.Register(Source{Name: "b.test", SearchURL: "https://b.test/find", Extractor: noop}))
	require.NoError(t, reg.Register(Source{Name: "a.test", SearchURL: "https://a.test/find", Extractor: noop}))
	require.Equal(t, []string{"a.test", "b.test"}, reg.Names())
}

func TestSelectorExtractorFixture(t *testing.T) {
	t.Parallel()

	body, err := os.ReadFile(filepath.Join("testdata", "infodoanhnghiep.html"))
	require.NoError(t, err)

	src, err := Builtin().Lookup(InfoDoanhNghiep)
	require.NoError(t, err)
	companies, err := src.Extractor.Extract(context.Background(), Document{Source: InfoDoanhNghiep, Body: body})
	require.NoError(t, err)
	require.Len(t, companies, 2)

	require.Equal(t, scraper.Company{
		TaxCode:             "0101234567",
		Name:                "CÔNG TY TNHH THƯƠNG MẠI AN PHÁT",
		Address:             "Số 12 Phố Huế, Hai Bà Trưng, Hà Nội",
		LegalRepresentative: "Nguyễn Văn An",
		SourceWebsite:       InfoDoanhNghiep,
	}, companies[0])
	require.Equal(t, "0108765432", companies[1].TaxCode)
	require.Empty(t, companies[1].LegalRepresentative)
}

func TestSelectorExtractorRequiresSelectors(t *testing.T) {
	t.Parallel()

	_, err := NewSelectorExtractor("x.test", Selectors{Item: "li"}).Extract(context.Background(), Document{})
	require.ErrorIs(t, err, scraper.ErrValidation)
}

func TestNormalizeTaxCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0101234567", NormalizeTaxCode("MST: 0101-234-567"))
	require.Equal(t, "0312345678001", NormalizeTaxCode(" Mã số thuế 0312345678-001 "))
	require.Empty(t, NormalizeTaxCode("n/a"))
}

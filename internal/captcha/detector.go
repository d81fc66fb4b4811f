package captcha

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// DefaultIndicators are the case-insensitive substrings that mark a page as
// gated by a CAPTCHA.
var DefaultIndicators = []string{
	"recaptcha",
	"hcaptcha",
	"captcha",
	"g-recaptcha",
	"h-captcha",
	"please complete the security check",
}

// Challenge describes a detected CAPTCHA well enough to submit it.
type Challenge struct {
	Kind     scraper.ChallengeKind
	SiteKey  string
	ImageURL string
}

// Detector scans fetched documents for CAPTCHA markup.
type Detector struct {
	indicators [][]byte
}

// NewDetector builds a Detector; nil indicators use DefaultIndicators.
func NewDetector(indicators []string) *Detector {
	if indicators == nil {
		indicators = DefaultIndicators
	}
	d := &Detector{indicators: make([][]byte, 0, len(indicators))}
	for _, ind := range indicators {
		if ind = strings.TrimSpace(ind); ind != "" {
			d.indicators = append(d.indicators, []byte(strings.ToLower(ind)))
		}
	}
	return d
}

// Detect reports whether body contains any indicator.
func (d *Detector) Detect(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, ind := range d.indicators {
		if bytes.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// Inspect parses body to infer the challenge kind and its site key or image.
// Widgets without recognisable markup default to reCAPTCHA v2.
func (d *Detector) Inspect(body []byte, pageURL string) Challenge {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Challenge{Kind: scraper.ChallengeRecaptchaV2}
	}

	if sel := doc.Find(".h-captcha[data-sitekey], [data-hcaptcha-sitekey]").First(); sel.Length() > 0 {
		key, ok := sel.Attr("data-sitekey")
		if !ok {
			key, _ = sel.Attr("data-hcaptcha-sitekey")
		}
		return Challenge{Kind: scraper.ChallengeHCaptcha, SiteKey: key}
	}

	var v3Key string
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if !strings.Contains(src, "recaptcha") {
			return true
		}
		if u, err := url.Parse(src); err == nil {
			if render := u.Query().Get("render"); render != "" && render != "explicit" {
				v3Key = render
				return false
			}
		}
		return true
	})
	if v3Key != "" {
		return Challenge{Kind: scraper.ChallengeRecaptchaV3, SiteKey: v3Key}
	}

	if sel := doc.Find(".g-recaptcha[data-sitekey], [data-sitekey]").First(); sel.Length() > 0 {
		key, _ := sel.Attr("data-sitekey")
		return Challenge{Kind: scraper.ChallengeRecaptchaV2, SiteKey: key}
	}

	if src := captchaImage(doc); src != "" {
		return Challenge{Kind: scraper.ChallengeImage, ImageURL: resolve(pageURL, src)}
	}
	return Challenge{Kind: scraper.ChallengeRecaptchaV2}
}

func captchaImage(doc *goquery.Document) string {
	var found string
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		id, _ := s.Attr("id")
		class, _ := s.Attr("class")
		alt, _ := s.Attr("alt")
		hay := strings.ToLower(src + " " + id + " " + class + " " + alt)
		if strings.Contains(hay, "captcha") {
			found = src
			return false
		}
		return true
	})
	return found
}

func resolve(base, ref string) string {
	if base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

package captcha

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

func TestDetectIndicators(t *testing.T) {
	t.Parallel()

	d := NewDetector(nil)
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "recaptcha widget", body: `<div class="g-recaptcha" data-sitekey="k"></div>`, want: true},
		{name: "mixed case", body: `<script src="https://js.HCaptcha.com/1/api.js"></script>`, want: true},
		{name: "security check text", body: `<p>Please complete the SECURITY CHECK to continue</p>`, want: true},
		{name: "clean listing", body: `<table><tr><td>0101234567</td></tr></table>`},
		{name: "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, d.Detect([]byte(tt.body)))
		})
	}
}

func TestInspectKinds(t *testing.T) {
	t.Parallel()

	d := NewDetector(nil)
	tests := []struct {
		name string
		body string
		want Challenge
	}{
		{
			name: "hcaptcha",
			body: `<form><div class="h-captcha" data-sitekey="hc-key"></div></form>`,
			want: Challenge{Kind: scraper.ChallengeHCaptcha, SiteKey: "hc-key"},
		},
		{
			name: "recaptcha v3 render key",
			body: `<script src="https://www.google.com/recaptcha/api.js?render=v3-key"></script>`,
			want: Challenge{Kind: scraper.ChallengeRecaptchaV3, SiteKey: "v3-key"},
		},
		{
			name: "recaptcha v2",
			body: `<script src="https://www.google.com/recaptcha/api.js?render=explicit"></script><div class="g-recaptcha" data-sitekey="v2-key"></div>`,
			want: Challenge{Kind: scraper.ChallengeRecaptchaV2, SiteKey: "v2-key"},
		},
		{
			name: "image",
			body: `<img id="captchaImage" src="/captcha/img?id=3">`,
			want: Challenge{Kind: scraper.ChallengeImage, ImageURL: "https://hsctvn.com/captcha/img?id=3"},
		},
		{
			name: "unknown markup",
			body: `<p>captcha required</p>`,
			want: Challenge{Kind: scraper.ChallengeRecaptchaV2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, d.Inspect([]byte(tt.body), "https://hsctvn.com/search?province=HN"))
		})
	}
}

func TestPriceTable(t *testing.T) {
	t.Parallel()

	prices := DefaultPriceTable()
	require.InDelta(t, 0.003, prices.Price(scraper.SolverTwoCaptcha, scraper.ChallengeRecaptchaV3), 1e-12)
	require.InDelta(t, 0.0008, prices.Price(scraper.SolverAntiCaptcha, scraper.ChallengeImage), 1e-12)
	require.InDelta(t, DefaultPrice, prices.Price("deathbycaptcha", scraper.ChallengeImage), 1e-12)

	prices.Set(scraper.SolverTwoCaptcha, scraper.ChallengeImage, 0.0012)
	require.InDelta(t, 0.0012, prices.Price(scraper.SolverTwoCaptcha, scraper.ChallengeImage), 1e-12)
}

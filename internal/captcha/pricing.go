package captcha

import "github.com/JakeFAU/bizregistry-scraper/internal/scraper"

// Pricing defaults in USD.
const (
	DefaultPrice             = 0.002
	DefaultFailedAttemptCost = 0.0005
)

type priceKey struct {
	service scraper.SolverService
	kind    scraper.ChallengeKind
}

// PriceTable maps (provider, challenge kind) to the cost of a solved task.
type PriceTable map[priceKey]float64

// DefaultPriceTable returns the published per-solve prices.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		{scraper.SolverTwoCaptcha, scraper.ChallengeRecaptchaV2}:  0.002,
		{scraper.SolverTwoCaptcha, scraper.ChallengeRecaptchaV3}:  0.003,
		{scraper.SolverTwoCaptcha, scraper.ChallengeHCaptcha}:     0.002,
		{scraper.SolverTwoCaptcha, scraper.ChallengeImage}:        0.001,
		{scraper.SolverAntiCaptcha, scraper.ChallengeRecaptchaV2}: 0.0015,
		{scraper.SolverAntiCaptcha, scraper.ChallengeRecaptchaV3}: 0.0025,
		{scraper.SolverAntiCaptcha, scraper.ChallengeHCaptcha}:    0.0018,
		{scraper.SolverAntiCaptcha, scraper.ChallengeImage}:       0.0008,
	}
}

// Price returns the cost of a solved task, or DefaultPrice for unknown pairs.
func (t PriceTable) Price(service scraper.SolverService, kind scraper.ChallengeKind) float64 {
	if p, ok := t[priceKey{service, kind}]; ok {
		return p
	}
	return DefaultPrice
}

// Set overrides one price.
func (t PriceTable) Set(service scraper.SolverService, kind scraper.ChallengeKind, price float64) {
	t[priceKey{service, kind}] = price
}

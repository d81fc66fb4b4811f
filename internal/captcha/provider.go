// Package captcha detects CAPTCHA challenges in fetched pages and solves them
// through pluggable external providers, charging every attempt against a
// price table and recording it in an audit log.
package captcha

import (
	"context"
	"errors"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// Task is what a provider needs to start solving a challenge.
type Task struct {
	Kind        scraper.ChallengeKind
	SiteKey     string
	PageURL     string
	ImageBase64 string
}

// PollResult is one poll of a submitted task.
type PollResult struct {
	Ready    bool
	Solution string
}

// Provider is a CAPTCHA solving service that accepts a task and is polled
// for its result.
type Provider interface {
	Service() scraper.SolverService
	Submit(ctx context.Context, task Task) (string, error)
	Poll(ctx context.Context, providerTaskID string) (PollResult, error)
}

// ErrProviderRejected marks a provider-reported failure (bad key, unsolvable
// challenge, zero balance).
var ErrProviderRejected = errors.New("captcha provider rejected task")

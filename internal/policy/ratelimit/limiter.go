// Package ratelimit implements per-source token bucket rate limiting so a
// job never hammers one registry.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages one token bucket per source name.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	overrides    map[string]float64
	observe      func(source string, d time.Duration)
}

// Config holds rate limiter configuration. PerSourceRPS overrides
// DefaultRPS for the named sources.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	PerSourceRPS map[string]float64
}

// New creates a Limiter. observe, if non-nil, receives every wait that
// actually blocked.
func New(cfg Config, observe func(source string, d time.Duration)) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limitFor(cfg.DefaultRPS),
		defaultBurst: burst,
		overrides:    cfg.PerSourceRPS,
		observe:      observe,
	}
}

func limitFor(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until a token is available for source, respecting the context.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	limiter := l.limiterFor(source)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond && l.observe != nil {
		l.observe(source, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[source]
	if !ok {
		r := l.defaultRate
		if rps, found := l.overrides[source]; found {
			r = limitFor(rps)
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[source] = limiter
	}
	return limiter
}

// Package ratelimit spaces out visits to the same domain with a token bucket
// per domain.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/sitescraper/internal/metrics"
)

// Config holds the per-domain visit rate. A non-positive rate disables
// limiting.
type Config struct {
	RequestsPerSecond float64 `mapstructure:"domain_rps"`
	Burst             int     `mapstructure:"domain_burst"`
}

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Enabled reports whether l paces visits at all. Pacing is opt-in: the
// zero Config never delays a visit.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit != rate.Inf
}

// Wait blocks until a visit to domain is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	if !l.Enabled() {
		return nil
	}
	domain = strings.ToLower(domain)
	l.mu.Lock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", domain, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePolitenessDelay(domain, waited)
	}
	return nil
}

// Domains reports how many domains have a bucket.
func (l *Limiter) Domains() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nexus-scanner/nexus/internal/config"
)

// Limiter throttles outbound requests: a global token bucket plus a minimum
// delay between requests to the same host.
type Limiter struct {
	limiter     *rate.Limiter
	minDelay    time.Duration
	lastRequest map[string]time.Time
	mu          sync.Mutex
}

func New(cfg config.RateLimitConfig) *Limiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		minDelay:    cfg.MinDelay,
		lastRequest: make(map[string]time.Time),
	}
}

// Wait blocks until the global rate limit allows a request.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// WaitForHost blocks for the global limit and then enforces the per-host
// minimum delay.
func (l *Limiter) WaitForHost(ctx context.Context, host string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.lastRequest[host]; ok {
		if elapsed := time.Since(last); elapsed < l.minDelay {
			select {
			case <-time.After(l.minDelay - elapsed):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	l.lastRequest[host] = time.Now()
	return nil
}

// SetLimit updates the global rate limit.
func (l *Limiter) SetLimit(requestsPerSecond float64) {
	l.limiter.SetLimit(rate.Limit(requestsPerSecond))
}

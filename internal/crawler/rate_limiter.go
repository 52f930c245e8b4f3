package crawler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/masahif/wikitadoru/internal/urlutil"
)

// globalKey is the single limiter key used when delays are not per host
const globalKey = "*"

// RateLimiter spaces out fetches, either per host or across the whole crawl
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	delays   map[string]time.Duration
	mu       sync.RWMutex
	delay    time.Duration
	perHost  bool
}

// NewRateLimiter creates a new rate limiter. A zero delay disables limiting.
func NewRateLimiter(defaultDelay time.Duration, perHost bool) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		delays:   make(map[string]time.Duration),
		delay:    defaultDelay,
		perHost:  perHost,
	}
}

// Wait waits for permission to proceed with a request to the given URL
func (r *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	return r.getLimiter(r.key(urlStr)).Wait(ctx)
}

// SetDomainDelay raises the delay for a host, e.g. from a robots.txt
// Crawl-delay. It never lowers the configured delay. In global mode the
// shared limiter is slowed down instead.
func (r *RateLimiter) SetDomainDelay(domain string, delay time.Duration) {
	if delay <= r.delay {
		return
	}

	key := domain
	if !r.perHost {
		key = globalKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if delay <= r.delays[key] {
		return
	}
	r.delays[key] = delay
	if limiter, exists := r.limiters[key]; exists {
		limiter.SetLimit(limitFor(delay))
		return
	}
	r.limiters[key] = rate.NewLimiter(limitFor(delay), 1)
}

// Delay returns the effective delay for a host
func (r *RateLimiter) Delay(domain string) time.Duration {
	key := domain
	if !r.perHost {
		key = globalKey
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if delay, ok := r.delays[key]; ok {
		return delay
	}
	return r.delay
}

func (r *RateLimiter) key(urlStr string) string {
	if !r.perHost {
		return globalKey
	}
	return urlutil.Host(urlStr)
}

// getLimiter gets or creates a rate limiter for a key
func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check again in case another goroutine created it
	if limiter, exists := r.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(limitFor(r.delay), 1)
	r.limiters[key] = limiter

	return limiter
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

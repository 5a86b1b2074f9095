package api

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool manages per-model and per-provider rate limiters.
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int
	mu       sync.Mutex
}

// NewRateLimiterPool creates a new rate limiter pool.
func NewRateLimiterPool() *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
	}
}

func (p *RateLimiterPool) getOrCreate(key string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[key]; exists {
		if existing, ok := p.rates[key]; ok && existing != requestsPerMinute {
			slog.Warn("Rate limiter already exists with different rate, keeping existing",
				"key", key,
				"existing_rpm", existing,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 5
	if burst < 3 {
		burst = 3
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[key] = limiter
	p.rates[key] = requestsPerMinute
	return limiter
}

// Wait blocks until the model limiter (and the provider limiter, when a
// provider-wide limit is configured) admits the next request.
func (p *RateLimiterPool) Wait(ctx context.Context, modelKey string, modelRPM int, providerKey string, providerRPM int) error {
	if providerKey != "" && providerRPM > 0 {
		if err := p.getOrCreate("provider:"+providerKey, providerRPM).Wait(ctx); err != nil {
			return err
		}
	}
	return p.getOrCreate(modelKey, modelRPM).Wait(ctx)
}

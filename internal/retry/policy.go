// Package retry classifies provider errors and computes backoff schedules.
// It is a stateless function set shared by every call site; the bounded
// attempt loop itself lives with the caller.
package retry

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/lamim/bookforge/internal/api"
	"github.com/lamim/bookforge/internal/config"
)

// Default policy values, matching the standard generation profile.
const (
	DefaultMaxModuleAttempts  = 5
	DefaultBaseRetryDelay     = 3 * time.Second
	DefaultMaxRetryDelay      = 30 * time.Second
	DefaultBaseRateLimitDelay = 5 * time.Second
)

// Classification describes why an error is (or is not) retryable.
type Classification struct {
	RateLimited  bool
	NetworkError bool
	Transient    bool
}

// Retryable reports whether any retryable category applies.
func (c Classification) Retryable() bool {
	return c.RateLimited || c.NetworkError || c.Transient
}

var rateLimitPhrases = []string{
	"rate limit", "rate-limit", "too many requests", "quota", "429",
}

var networkPhrases = []string{
	"network", "connection refused", "connection reset", "dial tcp",
	"no such host", "unexpected eof", "broken pipe",
}

var transientPhrases = []string{
	"timeout", "timed out", "overloaded", "unavailable", "internal error",
	"bad gateway", "too short", "empty response", "no content",
}

// Classify maps an error into the retry taxonomy. Typed API errors are
// classified by status; anything else falls back to message vocabulary.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsRateLimit():
			return Classification{RateLimited: true}
		case apiErr.IsTransport():
			return Classification{NetworkError: true}
		case apiErr.Retryable:
			return Classification{Transient: true}
		}
	}
	if errors.Is(err, api.ErrEmptyResponse) {
		return Classification{Transient: true}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range rateLimitPhrases {
		if strings.Contains(msg, p) {
			return Classification{RateLimited: true}
		}
	}
	for _, p := range networkPhrases {
		if strings.Contains(msg, p) {
			return Classification{NetworkError: true}
		}
	}
	for _, p := range transientPhrases {
		if strings.Contains(msg, p) {
			return Classification{Transient: true}
		}
	}
	return Classification{}
}

// ShouldRetry reports whether another attempt is warranted. attempt is the
// 1-based number of the attempt that just failed.
func ShouldRetry(err error, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	return Classify(err).Retryable()
}

// Policy holds the tunable delay schedule.
type Policy struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	BaseRateLimitDelay time.Duration
}

// Default returns the standard policy.
func Default() Policy {
	return Policy{
		MaxAttempts:        DefaultMaxModuleAttempts,
		BaseDelay:          DefaultBaseRetryDelay,
		MaxDelay:           DefaultMaxRetryDelay,
		BaseRateLimitDelay: DefaultBaseRateLimitDelay,
	}
}

// FromConfig builds a policy from the retry section of the config.
func FromConfig(rc config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:        rc.MaxModuleAttempts,
		BaseDelay:          time.Duration(rc.BaseRetryDelayMS) * time.Millisecond,
		MaxDelay:           time.Duration(rc.MaxRetryDelayMS) * time.Millisecond,
		BaseRateLimitDelay: time.Duration(rc.BaseRateLimitDelayMS) * time.Millisecond,
	}
}

// Delay computes the wait before retrying attempt (1-based, the attempt
// that just failed). Rate-limited failures back off at 1.5^attempt on a
// longer base; everything else doubles with a small jitter. Both schedules
// clamp to MaxDelay.
func (p Policy) Delay(attempt int, rateLimited bool) time.Duration {
	var d time.Duration
	if rateLimited {
		d = time.Duration(float64(p.BaseRateLimitDelay) * math.Pow(1.5, float64(attempt)))
	} else {
		d = time.Duration(math.Pow(2, float64(attempt-1))) * p.BaseDelay
		d += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

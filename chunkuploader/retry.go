package chunkuploader

import (
	"math"
	"time"

	"github.com/trendcast/go-mediautils/uploaderr"
)

// RetryPolicy describes exponential backoff between attempts of the same request.
// Waits grow as BaseDelay * Multiplier^(retry-1), capped at MaxDelay, and are stretched by
// RateLimitMultiplier when RateLimited reports that the previous attempt was throttled.
type RetryPolicy struct {
	MaxAttempts         int
	BaseDelay           time.Duration
	Multiplier          float64
	MaxDelay            time.Duration
	RateLimitMultiplier float64

	// RateLimited defaults to uploaderr.IsRateLimited (HTTP 429).
	RateLimited func(error) bool
}

// DefaultRetryPolicy returns 3 attempts with waits of 1s, 2s, 4s... and a 4x stretch on HTTP 429.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         3,
		BaseDelay:           time.Second,
		Multiplier:          2,
		MaxDelay:            time.Minute,
		RateLimitMultiplier: 4,
	}
}

// Attempts returns the total number of attempts, never less than one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before retry number `retry` (1 for the first retry) after lastErr.
func (p RetryPolicy) Delay(retry int, lastErr error) time.Duration {
	if retry < 1 || p.BaseDelay <= 0 {
		return 0
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(retry-1))

	if p.RateLimitMultiplier > 1 && p.IsRateLimited(lastErr) {
		delay *= p.RateLimitMultiplier
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// IsRateLimited applies the policy's throttling predicate to err.
func (p RetryPolicy) IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if p.RateLimited != nil {
		return p.RateLimited(err)
	}
	return uploaderr.IsRateLimited(err)
}

// Package ratelimit throttles outbound venue calls (book fetch, order
// submit/cancel) with a token bucket, so a connector never exceeds a
// venue's rate limit regardless of how fast the execution core drives it.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate.Limiter behind the narrow
// surface the connector package actually needs.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing r requests/sec with burst
// capacity for short spikes (useful for the two legs of one opportunity
// landing back to back).
func NewRateLimiter(r, burst float64) *RateLimiter {
	if r <= 0 {
		r = 10
	}
	if burst <= 0 {
		burst = r * 2
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(r), int(burst))}
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Allow reports whether a call may proceed right now, without blocking.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

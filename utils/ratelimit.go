package utils

import (
	"context"
	"time"
)

// RateLimiter allows at most n calls in any one-second window.
type RateLimiter struct {
	requests chan struct{}
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSecond int) *RateLimiter {
	if requestsPerSecond < 1 {
		requestsPerSecond = 1
	}
	return &RateLimiter{
		requests: make(chan struct{}, requestsPerSecond),
		window:   time.Second,
	}
}

// Wait waits for rate limit clearance
func (rl *RateLimiter) Wait(ctx context.Context) error {
	select {
	case rl.requests <- struct{}{}:
		// Release the slot once the window has passed
		time.AfterFunc(rl.window, func() { <-rl.requests })
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

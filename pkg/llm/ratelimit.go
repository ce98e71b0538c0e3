package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces a maximum request rate across concurrent workers by
// spacing call starts at least 1/maxRPS apart.
type RateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
}

// NewRateLimiter creates a limiter for maxRPS requests per second.
func NewRateLimiter(maxRPS float64) (*RateLimiter, error) {
	if maxRPS <= 0 {
		return nil, fmt.Errorf("max rps must be greater than zero, got %f", maxRPS)
	}
	return &RateLimiter{
		minInterval: time.Duration(float64(time.Second) / maxRPS),
	}, nil
}

// Wait blocks until the next call slot, or until ctx is done. The slot is
// claimed before sleeping, so concurrent waiters queue instead of dogpiling
// when the sleep ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	next := r.last.Add(r.minInterval)
	if next.Before(now) {
		next = now
	}
	r.last = next
	r.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package domain

import (
	"context"
	"time"
)

// RateLimitDecision is the outcome of one Allow call for a bucket.
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the bucket resets, rounded down to whole
// seconds and never negative.
func (d RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now).Truncate(time.Second)
}

// RateLimiter guards the write endpoints of the receipt API. Keys combine the
// client address with the route and, optionally, a caller subject.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, period time.Duration) (RateLimitDecision, error)
}

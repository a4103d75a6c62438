// Package rateLimit applies fixed-window request limits backed by Redis
// counters.
package rateLimit

import (
	"context"
	"time"
)

type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimiter is safe to use as a nil pointer; it then allows everything.
type RateLimiter struct {
	counter Counter
}

func NewRateLimiter(counter Counter) *RateLimiter {
	return &RateLimiter{counter: counter}
}

// Allow counts one hit against key and reports whether it stays within rate
// hits per period.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	if rl == nil || rate <= 0 {
		return true, nil
	}
	n, err := rl.counter.Incr(ctx, "rl:"+key, period)
	if err != nil {
		return true, err
	}
	return n <= int64(rate), nil
}

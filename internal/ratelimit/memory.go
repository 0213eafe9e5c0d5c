package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps a token bucket per key in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   int
	every   rate.Limit
	now     func() time.Time
}

func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   perMinute,
		every:   rate.Every(time.Minute / time.Duration(perMinute)),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.every, l.limit)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	decision := Decision{Limit: l.limit}
	if bucket.AllowN(now, 1) {
		decision.Allowed = true
		decision.Remaining = int(bucket.TokensAt(now))
		return decision, nil
	}

	reservation := bucket.ReserveN(now, 1)
	decision.RetryAfter = reservation.DelayFrom(now)
	reservation.CancelAt(now)
	return decision, nil
}

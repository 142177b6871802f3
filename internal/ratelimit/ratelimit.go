// Package ratelimit provides a keyed token bucket for job submissions. Each
// (user, provider) pair gets its own bucket so one noisy client cannot
// starve the rest.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/speecher/stt-engine/internal/config"
)

// Limiter hands out per-key token buckets. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// New builds a Limiter from config. JobsPerMinute <= 0 disables limiting.
func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(float64(cfg.JobsPerMinute) / 60),
		burst:   cfg.Burst,
	}
}

// Allow reports whether a submission for the given user and provider may
// proceed, consuming a token when it does.
func (l *Limiter) Allow(user, provider string) bool {
	if l.limit <= 0 {
		return true
	}
	return l.bucket(user + "\x00" + provider).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Package ratelimit implements per-tenant admission limits, counted per
// route class over a fixed window.
package ratelimit

import (
	"sync"
	"time"

	"github.com/inspectd/mcp-gateway/pkg/config"
)

// Class groups routes by cost so expensive operations get tighter limits.
type Class string

// Route classes
const (
	ClassConnect   Class = "connect"
	ClassReconnect Class = "reconnect"
	ClassExecute   Class = "execute"
	ClassOther     Class = "other"
)

// Decision is the outcome of an admission check, carrying everything the
// middleware needs to populate the X-RateLimit-* headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

type bucketKey struct {
	tenant string
	class  Class
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per (tenant, class) over a fixed window. A fresh
// window starts on the first request after the previous window expired;
// there is no sliding behavior.
type Limiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	cfg     config.RateLimitConfig

	// now is injectable for tests.
	now func() time.Time
}

// NewLimiter creates a limiter from the configured per-class limits.
func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		buckets: make(map[bucketKey]*bucket),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Allow records one request for the tenant and class and reports whether it
// is admitted. When the limiter is disabled every request is admitted and
// header values reflect the configured limit untouched.
func (l *Limiter) Allow(tenant string, class Class) Decision {
	limit := l.limitFor(class)

	if !l.cfg.Enabled {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := bucketKey{tenant: tenant, class: class}
	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(l.cfg.Window)}
		l.buckets[key] = b
	}

	if b.count >= limit {
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: b.resetAt.Sub(now),
			ResetAt:    b.resetAt,
		}
	}

	b.count++
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - b.count,
		ResetAt:   b.resetAt,
	}
}

// Reset clears all counters. Test hook.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[bucketKey]*bucket)
}

func (l *Limiter) limitFor(class Class) int {
	switch class {
	case ClassConnect:
		return l.cfg.Connect
	case ClassReconnect:
		return l.cfg.Reconnect
	case ClassExecute:
		return l.cfg.Execute
	default:
		return l.cfg.Other
	}
}

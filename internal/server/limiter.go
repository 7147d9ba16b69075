package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ownerLimiter keeps one token bucket per caller identity. Buckets idle for
// longer than idleTTL are dropped on the next sweep.
type ownerLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	buckets map[string]*bucket
	swept   time.Time
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newOwnerLimiter(rps float64, burst int) *ownerLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ownerLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether owner may start another turn now. A non-positive
// rate disables limiting.
func (l *ownerLimiter) Allow(owner string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > l.idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.idleTTL {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[owner]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[owner] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

package middleware

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused per-key bucket is kept
const idleLimiterTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter is a token bucket per key, typically the agent id
type KeyedLimiter struct {
	rps   rate.Limit
	burst int
	clock clock.Clock

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastPrune time.Time
}

// NewKeyedLimiter creates a limiter allowing rps requests per second per
// key with the given burst
func NewKeyedLimiter(rps float64, burst int, clk clock.Clock) *KeyedLimiter {
	return &KeyedLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		clock:    clk,
		limiters: make(map[string]*limiterEntry),
	}
}

// Allow reports whether one more request for key fits in its bucket
func (l *KeyedLimiter) Allow(key string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > idleLimiterTTL {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > idleLimiterTTL {
				delete(l.limiters, k)
			}
		}
		l.lastPrune = now
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

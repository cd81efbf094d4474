package middleware

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
)

func TestKeyedLimiter_BurstThenRefill(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	l := NewKeyedLimiter(1, 2, clk)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "burst exhausted")
	assert.True(t, l.Allow("b"), "keys have separate buckets")

	clk.Advance(time.Second)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
}

func TestKeyedLimiter_PrunesIdleKeys(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	l := NewKeyedLimiter(1, 1, clk)

	l.Allow("idle")
	clk.Advance(idleLimiterTTL + time.Second)
	l.Allow("active")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.limiters, "idle")
	assert.Contains(t, l.limiters, "active")
}

package embedclient

import (
	"context"
	"sync"
	"time"

	"docuretrieve/internal/apperr"
)

// limiter implements the dual token-bucket admission test required by C2:
// both the requests-per-minute and tokens-per-minute buckets must admit
// before a call is issued. Refill is lazy (computed on each Allow call)
// rather than via a background goroutine, matching the reference embedder's
// minimal-dependency style while actually modeling two independent buckets.
type limiter struct {
	mu sync.Mutex

	rpmCapacity float64
	tpmCapacity float64
	rpmTokens   float64
	tpmTokens   float64
	lastRefill  time.Time

	now func() time.Time
}

func newLimiter(rpm, tpm int, now func() time.Time) *limiter {
	if now == nil {
		now = time.Now
	}
	return &limiter{
		rpmCapacity: float64(rpm),
		tpmCapacity: float64(tpm),
		rpmTokens:   float64(rpm),
		tpmTokens:   float64(tpm),
		lastRefill:  now(),
		now:         now,
	}
}

func (l *limiter) refillLocked() {
	t := l.now()
	elapsed := t.Sub(l.lastRefill).Minutes()
	if elapsed <= 0 {
		return
	}
	l.rpmTokens = min(l.rpmCapacity, l.rpmTokens+elapsed*l.rpmCapacity)
	l.tpmTokens = min(l.tpmCapacity, l.tpmTokens+elapsed*l.tpmCapacity)
	l.lastRefill = t
}

// Allow blocks until both buckets can admit one request of the given token
// cost, up to waitBudget, then returns Throttled. The wait budget is measured
// on the wall clock; l.now only drives bucket refill.
func (l *limiter) Allow(ctx context.Context, tokenCost int, waitBudget time.Duration) error {
	deadline := time.Now().Add(waitBudget)
	for {
		l.mu.Lock()
		l.refillLocked()
		if l.rpmTokens >= 1 && l.tpmTokens >= float64(tokenCost) {
			l.rpmTokens--
			l.tpmTokens -= float64(tokenCost)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if time.Now().After(deadline) {
			return apperr.New(apperr.Throttled, "rate limit budget exhausted")
		}
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.Cancelled, ctx.Err(), "rate limit wait cancelled")
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

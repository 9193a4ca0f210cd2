package embedclient

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAdmitsWithinCapacity(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	lim := newLimiter(10, 1000, clock)

	if err := lim.Allow(context.Background(), 100, time.Second); err != nil {
		t.Fatalf("expected first call to be admitted: %v", err)
	}
}

func TestLimiterThrottlesWhenTokensExhausted(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	lim := newLimiter(1, 10, clock)

	if err := lim.Allow(context.Background(), 5, 10*time.Millisecond); err != nil {
		t.Fatalf("expected first call to be admitted: %v", err)
	}
	// The first call used the single RPM token and the clock never advances,
	// so the second call must be throttled once the wait budget runs out.
	if err := lim.Allow(context.Background(), 1, 10*time.Millisecond); err == nil {
		t.Fatalf("expected second call to be throttled")
	}
}

func TestLimiterRefillsOverTime(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	lim := newLimiter(1, 1000, clock)

	_ = lim.Allow(context.Background(), 1, time.Millisecond)
	now = now.Add(time.Minute)
	if err := lim.Allow(context.Background(), 1, time.Millisecond); err != nil {
		t.Fatalf("expected bucket to refill after a minute: %v", err)
	}
}

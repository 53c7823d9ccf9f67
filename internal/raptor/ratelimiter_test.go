package raptor

import (
	"context"
	"testing"
	"time"
)

// TestRateLimiterWindowInvariant checks the windowing guarantee: for any
// interleaving of acquire calls, no live window ever contains more than rpm
// requests or more than tpm tokens. Uses a short window via
// NewRateLimiterWithWindow so the test runs in milliseconds instead of
// blocking on the real 60s window.
func TestRateLimiterWindowInvariant(t *testing.T) {
	const window = 200 * time.Millisecond
	rl := NewRateLimiterWithWindow(2, 1000, window)
	ctx := context.Background()

	const calls = 6
	times := make([]time.Time, calls)
	start := time.Now()
	for i := 0; i < calls; i++ {
		if err := rl.Acquire(ctx, 0); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		times[i] = time.Now()
	}
	elapsed := time.Since(start)

	// rpm=2 over a 200ms window means 6 serial acquires must span at least
	// two window rollovers (calls 3..4 wait out window 1, calls 5..6 wait
	// out window 2), so this must take a visible amount of wall time...
	if elapsed < window {
		t.Fatalf("expected acquires to span at least one window rollover (>= %v), got %v", window, elapsed)
	}
	// ...but nowhere near the ~2 minutes a 60s-window limiter would force
	// for the same rpm and call count, proving the short window actually
	// took effect.
	if elapsed > 5*window {
		t.Fatalf("elapsed %v is far beyond what a %v window should require; window override did not take effect", elapsed, window)
	}

	// Re-derive the invariant directly: no sliding window of length
	// `window` anchored at any acquire time may contain more than rpm
	// recorded acquires.
	for i := range times {
		count := 0
		for _, tm := range times {
			if !tm.Before(times[i]) && tm.Sub(times[i]) < window {
				count++
			}
		}
		if count > 2 {
			t.Fatalf("window anchored at acquire %d contains %d requests, exceeding rpm=2", i, count)
		}
	}
}

func TestRateLimiterAcquireCancellation(t *testing.T) {
	rl := NewRateLimiter(1, 10)
	ctx := context.Background()

	if err := rl.Acquire(ctx, 0); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := rl.Acquire(cctx, 0)
	if err == nil {
		t.Fatalf("expected cancellation error, got nil")
	}

	// The abandoned acquire must not have recorded a slot: only the first
	// acquire's request may be in the window.
	if got := len(rl.reqTimes); got != 1 {
		t.Fatalf("expected exactly 1 recorded request after cancellation, got %d", got)
	}
}

func TestRateLimiterNeverExceedsRPMInWindow(t *testing.T) {
	rl := NewRateLimiter(3, 1_000_000)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rl.Acquire(ctx, 1); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	rl.mu.Lock()
	n := len(rl.reqTimes)
	rl.mu.Unlock()
	if n != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", n)
	}
}

package raptor

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum interval between successive embedding batches at
// the pipeline level, independent of any per-slot RateLimiter: it smooths
// the aggregate request cadence across levels so that retries elsewhere do
// not cause bursts.
type Pacer struct {
	minInterval time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

// NewPacer builds a Pacer whose minimum interval is derived from an RPM
// limit: 60 / rpmLimit seconds, matching the builder's min_interval formula.
func NewPacer(rpmLimit int) *Pacer {
	if rpmLimit < 1 {
		rpmLimit = 1
	}
	return &Pacer{minInterval: time.Duration(float64(time.Minute) / float64(rpmLimit))}
}

// Wait blocks until at least minInterval has elapsed since the previous
// call's Wait returned, then records "now" as the new reference point.
// The very first call never sleeps.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	var sleepFor time.Duration
	if !p.lastCall.IsZero() {
		sleepFor = p.minInterval - time.Since(p.lastCall)
	}
	p.mu.Unlock()

	if sleepFor > 0 {
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	p.mu.Lock()
	p.lastCall = time.Now()
	p.mu.Unlock()
	return nil
}

// Package limiter bounds simultaneous outstanding reasoning calls across
// the whole process. Two tiers exist: a sustained ceiling for ordinary
// callers and a higher burst ceiling that callers may use only when they
// declare capacity for it (large documents on a high API tier).
package limiter

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
)

// Limiter is a process-wide two-tier concurrency limiter. Acquisition is
// FIFO-fair, so no agent starves another.
type Limiter struct {
	sustained *semaphore.Weighted
	burst     *semaphore.Weighted

	sustainedCap int64
	burstCap     int64
}

// New builds a limiter with the given ceilings. burst must be >= sustained;
// a burst of 0 disables the burst tier (burst == sustained).
func New(sustained, burst int) (*Limiter, error) {
	if sustained <= 0 {
		return nil, eris.Errorf("limiter: sustained ceiling must be positive, got %d", sustained)
	}
	if burst == 0 {
		burst = sustained
	}
	if burst < sustained {
		return nil, eris.Errorf("limiter: burst ceiling %d below sustained %d", burst, sustained)
	}
	return &Limiter{
		sustained:    semaphore.NewWeighted(int64(sustained)),
		burst:        semaphore.NewWeighted(int64(burst)),
		sustainedCap: int64(sustained),
		burstCap:     int64(burst),
	}, nil
}

// Acquire blocks until a sustained-tier slot is free. Every successful
// acquire must be paired with Release on all exit paths.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sustained.Acquire(ctx, 1); err != nil {
		return eris.Wrap(err, "limiter: acquire sustained")
	}
	if err := l.burst.Acquire(ctx, 1); err != nil {
		l.sustained.Release(1)
		return eris.Wrap(err, "limiter: acquire burst")
	}
	return nil
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.burst.Release(1)
	l.sustained.Release(1)
}

// AcquireBurst blocks until a burst-tier slot is free. Callers use this only
// after declaring capacity for burst throughput; it bypasses the sustained
// ceiling but still respects the burst ceiling.
func (l *Limiter) AcquireBurst(ctx context.Context) error {
	return eris.Wrap(l.burst.Acquire(ctx, 1), "limiter: acquire burst")
}

// ReleaseBurst frees a slot taken by AcquireBurst.
func (l *Limiter) ReleaseBurst() {
	l.burst.Release(1)
}

// SustainedCap returns the sustained ceiling.
func (l *Limiter) SustainedCap() int { return int(l.sustainedCap) }

// BurstCap returns the burst ceiling.
func (l *Limiter) BurstCap() int { return int(l.burstCap) }

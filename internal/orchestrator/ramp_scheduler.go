// Package orchestrator runs a pool of ExifTool instances over a list of
// files and wires the pool to metrics, stats and the exit summary.
package orchestrator

import (
	"context"
	"time"

	"github.com/randomizedcoder/go-exiftool-stayopen/internal/supervisor"
)

// RampScheduler staggers instance starts over a window so the Perl
// interpreters do not all compile ExifTool at the same moment.
type RampScheduler struct {
	window time.Duration
	jitter *supervisor.JitterSource
}

// NewRampScheduler creates a scheduler seeded from the current time.
func NewRampScheduler(window time.Duration) *RampScheduler {
	return &RampScheduler{
		window: window,
		jitter: supervisor.NewJitterSourceFromTime(),
	}
}

// NewRampSchedulerWithSeed creates a scheduler with a specific seed for reproducibility.
func NewRampSchedulerWithSeed(window time.Duration, seed int64) *RampScheduler {
	return &RampScheduler{
		window: window,
		jitter: supervisor.NewJitterSource(seed),
	}
}

// Delay returns the start offset of an instance.
func (r *RampScheduler) Delay(id int) time.Duration {
	return r.jitter.StartDelay(id, r.window)
}

// Schedule waits until instance id may start.
// Returns nil on success, or the context error if cancelled.
func (r *RampScheduler) Schedule(ctx context.Context, id int) error {
	delay := r.Delay(id)
	if delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Seed returns the jitter seed; restart backoffs derive from it.
func (r *RampScheduler) Seed() int64 {
	return r.jitter.Seed()
}

// Window returns the configured start window.
func (r *RampScheduler) Window() time.Duration {
	return r.window
}

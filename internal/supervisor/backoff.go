package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds the configuration for restart backoff.
type BackoffConfig struct {
	Initial    time.Duration // First delay (default: 100ms)
	Max        time.Duration // Upper bound (default: 10s)
	Multiplier float64       // Growth per attempt (default: 2)
	JitterPct  float64       // Jitter as a fraction of the delay (default: 0.4 = ±20%)
}

// DefaultBackoffConfig returns the defaults used between restarts of a
// crashed ExifTool. The first restart is quick: a crash is usually caused by
// one bad file, not by the binary.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2,
		JitterPct:  0.4,
	}
}

// Backoff calculates exponential restart delays with jitter.
// Each worker gets its own seeded instance so restarts do not line up.
// Not safe for concurrent use; each worker owns one.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a Backoff for the given worker.
func NewBackoff(workerID int, seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(int64(workerID) ^ seed)),
	}
}

// Next returns the next delay and counts the attempt.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current delay without counting an attempt.
func (b *Backoff) Calculate() time.Duration {
	attempts := b.attempts
	if attempts < 0 {
		attempts = 0
	}
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(attempts))
	if delay > float64(b.config.Max) || math.IsInf(delay, 1) || math.IsNaN(delay) {
		delay = float64(b.config.Max)
	}

	if b.config.JitterPct > 0 {
		span := delay * b.config.JitterPct
		delay += span*b.rng.Float64() - span/2
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Reset forgets previous attempts.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// StableUptime is how long an instance must have served commands before a
// crash is treated as unrelated to the previous one.
const StableUptime = 30 * time.Second

// ShouldReset reports whether the backoff should start over after a
// crash: either the process had been up long enough to count as stable, or
// it had answered enough commands since its last start.
func ShouldReset(uptime time.Duration, commands int) bool {
	return uptime >= StableUptime || commands >= 100
}

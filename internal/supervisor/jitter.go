package supervisor

import (
	"math/rand"
	"time"
)

// JitterSource spreads worker start-up over a window. Starting many
// ExifTool processes at once means many Perl interpreters compiling the same
// modules at the same moment; a per-worker offset smooths that out.
type JitterSource struct {
	seed int64
}

// NewJitterSource creates a jitter source with the given seed.
// The same seed gives the same offsets.
func NewJitterSource(seed int64) *JitterSource {
	return &JitterSource{seed: seed}
}

// NewJitterSourceFromTime creates a jitter source seeded from the current time.
func NewJitterSourceFromTime() *JitterSource {
	return NewJitterSource(time.Now().UnixNano())
}

// Seed returns the seed, so Backoffs can be derived from the same run.
func (j *JitterSource) Seed() int64 {
	return j.seed
}

// StartDelay returns the start offset for a worker within [0, window).
// Worker 0 always starts immediately so the first result is not delayed.
func (j *JitterSource) StartDelay(workerID int, window time.Duration) time.Duration {
	if workerID == 0 || window <= 0 {
		return 0
	}
	rng := rand.New(rand.NewSource(int64(workerID) ^ j.seed))
	return time.Duration(rng.Int63n(int64(window)))
}

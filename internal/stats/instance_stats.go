// Package stats provides per-instance and aggregated statistics for an
// ExifTool batch run.
package stats

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
)

// digestCompression keeps about 100 centroids (~10KB) per digest.
const digestCompression = 100

// InstanceStats holds statistics for a single ExifTool instance.
// Counters are atomic; the latency digest and outcome map are guarded by mu.
type InstanceStats struct {
	InstanceID int

	commands  atomic.Int64
	failures  atomic.Int64
	starts    atomic.Int64
	fallbacks atomic.Int64
	running   atomic.Bool

	mu           sync.Mutex
	latency      *tdigest.TDigest
	maxLatency   time.Duration
	outcomes     map[exiftool.Outcome]int64
	exitCodes    map[int]int64
	processStart time.Time
}

// NewInstanceStats creates stats for one instance.
func NewInstanceStats(instanceID int) *InstanceStats {
	return &InstanceStats{
		InstanceID: instanceID,
		latency:    tdigest.NewWithCompression(digestCompression),
		outcomes:   make(map[exiftool.Outcome]int64),
		exitCodes:  make(map[int]int64),
	}
}

// OnProcessStart records a (re)start.
func (s *InstanceStats) OnProcessStart() {
	s.starts.Add(1)
	s.running.Store(true)

	s.mu.Lock()
	s.processStart = time.Now()
	s.mu.Unlock()
}

// OnProcessExit records an exit.
func (s *InstanceStats) OnProcessExit(exitCode int) {
	s.running.Store(false)

	s.mu.Lock()
	s.exitCodes[exitCode]++
	s.mu.Unlock()
}

// RecordCommand records one completed command.
func (s *InstanceStats) RecordCommand(outcome exiftool.Outcome, latency time.Duration) {
	s.commands.Add(1)
	if outcome != exiftool.OutcomeOK {
		s.failures.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[outcome]++
	s.latency.Add(float64(latency.Nanoseconds()), 1)
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
}

// RecordFallback counts a response decoded with the fallback encoding.
func (s *InstanceStats) RecordFallback() {
	s.fallbacks.Add(1)
}

// Restarts returns the number of starts after the first.
func (s *InstanceStats) Restarts() int64 {
	if n := s.starts.Load(); n > 1 {
		return n - 1
	}
	return 0
}

// Uptime returns how long the current process has run, or 0 if stopped.
func (s *InstanceStats) Uptime() time.Duration {
	if !s.running.Load() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.processStart)
}

// LatencyPercentile returns the given latency quantile (0.0-1.0), or 0 when
// no command has completed.
func (s *InstanceStats) LatencyPercentile(q float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return quantile(s.latency, q)
}

// Summary holds a snapshot of one instance's stats.
type Summary struct {
	InstanceID int
	Running    bool
	Uptime     time.Duration
	Commands   int64
	Failures   int64
	Starts     int64
	Restarts   int64
	Fallbacks  int64
	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyMax time.Duration
}

// GetSummary returns a snapshot of the instance's stats.
func (s *InstanceStats) GetSummary() Summary {
	sum := Summary{
		InstanceID: s.InstanceID,
		Running:    s.running.Load(),
		Uptime:     s.Uptime(),
		Commands:   s.commands.Load(),
		Failures:   s.failures.Load(),
		Starts:     s.starts.Load(),
		Restarts:   s.Restarts(),
		Fallbacks:  s.fallbacks.Load(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sum.LatencyP50 = quantile(s.latency, 0.50)
	sum.LatencyP95 = quantile(s.latency, 0.95)
	sum.LatencyMax = s.maxLatency
	return sum
}

// quantile reads a digest of nanosecond samples. Empty digests yield NaN,
// reported as 0.
func quantile(d *tdigest.TDigest, q float64) time.Duration {
	v := d.Quantile(q)
	if math.IsNaN(v) {
		return 0
	}
	return time.Duration(v)
}

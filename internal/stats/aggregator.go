package stats

import (
	"slices"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
)

// AggregatedStats holds statistics summed across all instances.
type AggregatedStats struct {
	Instances       int
	RunningNow      int
	TotalCommands   int64
	TotalFailures   int64
	TotalStarts     int64
	TotalRestarts   int64
	DecodeFallbacks int64

	Outcomes  map[exiftool.Outcome]int64
	ExitCodes map[int]int64

	// CommandRate is commands per second since the aggregator was created.
	CommandRate float64

	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration
	LatencyMax time.Duration

	Elapsed time.Duration

	// PerInstance is sorted by InstanceID.
	PerInstance []Summary
}

// ErrorRate returns failures as a fraction of all commands.
func (a *AggregatedStats) ErrorRate() float64 {
	if a.TotalCommands == 0 {
		return 0
	}
	return float64(a.TotalFailures) / float64(a.TotalCommands)
}

// Aggregator collects InstanceStats and implements exiftool.Observer, so
// it can be handed to every instance next to the metrics collector.
type Aggregator struct {
	mu        sync.RWMutex
	instances map[int]*InstanceStats
	startTime time.Time
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		instances: make(map[int]*InstanceStats),
		startTime: time.Now(),
	}
}

// Instance returns the stats for id, creating them on first use.
func (a *Aggregator) Instance(id int) *InstanceStats {
	a.mu.RLock()
	s, ok := a.instances[id]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.instances[id]; ok {
		return s
	}
	s = NewInstanceStats(id)
	a.instances[id] = s
	return s
}

// InstanceCount returns the number of instances seen.
func (a *Aggregator) InstanceCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.instances)
}

// ProcessStarted implements exiftool.Observer.
func (a *Aggregator) ProcessStarted(id, pid int) {
	a.Instance(id).OnProcessStart()
}

// ProcessStopped implements exiftool.Observer.
func (a *Aggregator) ProcessStopped(id, pid, exitCode int, uptime time.Duration) {
	a.Instance(id).OnProcessExit(exitCode)
}

// CommandCompleted implements exiftool.Observer.
func (a *Aggregator) CommandCompleted(id int, outcome exiftool.Outcome, latency time.Duration) {
	a.Instance(id).RecordCommand(outcome, latency)
}

// DecodeFallback implements exiftool.Observer.
func (a *Aggregator) DecodeFallback(id int) {
	a.Instance(id).RecordFallback()
}

// Elapsed returns the time since the aggregator was created.
func (a *Aggregator) Elapsed() time.Duration {
	return time.Since(a.startTime)
}

// Aggregate computes totals and merged latency percentiles.
func (a *Aggregator) Aggregate() *AggregatedStats {
	a.mu.RLock()
	list := make([]*InstanceStats, 0, len(a.instances))
	for _, s := range a.instances {
		list = append(list, s)
	}
	a.mu.RUnlock()

	agg := &AggregatedStats{
		Instances: len(list),
		Outcomes:  make(map[exiftool.Outcome]int64),
		ExitCodes: make(map[int]int64),
		Elapsed:   a.Elapsed(),
	}

	merged := tdigest.NewWithCompression(digestCompression)
	for _, s := range list {
		sum := s.GetSummary()
		agg.PerInstance = append(agg.PerInstance, sum)
		if sum.Running {
			agg.RunningNow++
		}
		agg.TotalCommands += sum.Commands
		agg.TotalFailures += sum.Failures
		agg.TotalStarts += sum.Starts
		agg.TotalRestarts += sum.Restarts
		agg.DecodeFallbacks += sum.Fallbacks
		if sum.LatencyMax > agg.LatencyMax {
			agg.LatencyMax = sum.LatencyMax
		}

		s.mu.Lock()
		merged.AddCentroidList(s.latency.Centroids())
		for k, v := range s.outcomes {
			agg.Outcomes[k] += v
		}
		for k, v := range s.exitCodes {
			agg.ExitCodes[k] += v
		}
		s.mu.Unlock()
	}

	agg.LatencyP50 = quantile(merged, 0.50)
	agg.LatencyP95 = quantile(merged, 0.95)
	agg.LatencyP99 = quantile(merged, 0.99)

	if secs := agg.Elapsed.Seconds(); secs > 0 {
		agg.CommandRate = float64(agg.TotalCommands) / secs
	}

	slices.SortFunc(agg.PerInstance, func(x, y Summary) int {
		return x.InstanceID - y.InstanceID
	})
	return agg
}

var _ exiftool.Observer = (*Aggregator)(nil)

// Package metrics provides Prometheus metrics for exiftool-batch.
//
// Metrics are organized into two tiers:
//   - Tier 1 (always enabled): aggregate metrics across all instances
//   - Tier 2 (optional, -prom-instance-metrics): per-instance command counts
package metrics

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
)

const namespace = "exiftool_batch"

// latencyBuckets covers a warm -stay_open round trip (sub-millisecond) up
// to slow reads of large files over network storage.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
	0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Collector manages the Prometheus metrics for a pool of instances. It
// implements exiftool.Observer.
type Collector struct {
	perInstanceEnabled bool
	instances          int

	// Tier 1
	info            *prometheus.GaugeVec
	targetInstances prometheus.Gauge
	activeProcesses prometheus.Gauge
	commandsTotal   *prometheus.CounterVec
	commandLatency  prometheus.Histogram
	startsTotal     prometheus.Counter
	restartsTotal   prometheus.Counter
	exitsTotal      *prometheus.CounterVec
	uptimeSeconds   prometheus.Histogram
	fallbacksTotal  prometheus.Counter
	filesTotal      *prometheus.CounterVec
	pipeBytesTotal  *prometheus.CounterVec

	// Tier 2
	instanceCommands *prometheus.CounterVec

	startTime time.Time

	// For summary generation
	mu            sync.Mutex
	active        int
	peakActive    int
	totalStarts   int64
	totalRestarts int64
	outcomes      map[exiftool.Outcome]int64
	exitCodes     map[int]int64
	uptimes       []time.Duration
	filesOK       int64
	filesFailed   int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Instances          int
	Version            string
	PerInstanceMetrics bool
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		perInstanceEnabled: cfg.PerInstanceMetrics,
		instances:          cfg.Instances,
		startTime:          time.Now(),
		outcomes:           make(map[exiftool.Outcome]int64),
		exitCodes:          make(map[int]int64),

		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the ExifTool binary (value always 1)",
		}, []string{"version"}),
		targetInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_instances",
			Help:      "Configured number of ExifTool instances",
		}),
		activeProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_processes",
			Help:      "Currently running ExifTool processes",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands completed, by outcome",
		}, []string{"outcome"}),
		commandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_latency_seconds",
			Help:      "Round-trip latency of one command, including decoding",
			Buckets:   latencyBuckets,
		}),
		startsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_starts_total",
			Help:      "ExifTool processes spawned",
		}),
		restartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_restarts_total",
			Help:      "Restarts after a process terminated mid-command",
		}),
		exitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "ExifTool process exits, by category (success, error, signal)",
		}, []string{"category"}),
		uptimeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_uptime_seconds",
			Help:      "Lifetime of ExifTool processes",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
		fallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_fallbacks_total",
			Help:      "Responses decoded as ISO-8859-1 because they were invalid in the configured encoding",
		}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files processed, by result (ok, failed)",
		}, []string{"result"}),
		pipeBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipe_bytes_total",
			Help:      "Bytes read from ExifTool pipes by exited processes, by stream (stdout, stderr)",
		}, []string{"stream"}),
	}

	registry.MustRegister(
		c.info,
		c.targetInstances,
		c.activeProcesses,
		c.commandsTotal,
		c.commandLatency,
		c.startsTotal,
		c.restartsTotal,
		c.exitsTotal,
		c.uptimeSeconds,
		c.fallbacksTotal,
		c.filesTotal,
		c.pipeBytesTotal,
	)

	if cfg.PerInstanceMetrics {
		c.instanceCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_commands_total",
			Help:      "Per-instance commands completed (requires -prom-instance-metrics)",
		}, []string{"instance"})
		registry.MustRegister(c.instanceCommands)
	}

	if cfg.Version != "" {
		c.info.WithLabelValues(cfg.Version).Set(1)
	}
	c.targetInstances.Set(float64(cfg.Instances))

	return c
}

// =============================================================================
// Observer
// =============================================================================

// ProcessStarted records a process start.
func (c *Collector) ProcessStarted(id, pid int) {
	c.startsTotal.Inc()

	c.mu.Lock()
	c.totalStarts++
	c.active++
	if c.active > c.peakActive {
		c.peakActive = c.active
	}
	c.activeProcesses.Set(float64(c.active))
	c.mu.Unlock()
}

// ProcessStopped records a process exit.
func (c *Collector) ProcessStopped(id, pid, exitCode int, uptime time.Duration) {
	c.exitsTotal.WithLabelValues(exitCategory(exitCode)).Inc()
	c.uptimeSeconds.Observe(uptime.Seconds())

	c.mu.Lock()
	if c.active > 0 {
		c.active--
	}
	c.activeProcesses.Set(float64(c.active))
	c.exitCodes[exitCode]++
	c.uptimes = append(c.uptimes, uptime)
	c.mu.Unlock()
}

// CommandCompleted records one finished command.
func (c *Collector) CommandCompleted(id int, outcome exiftool.Outcome, latency time.Duration) {
	c.commandsTotal.WithLabelValues(string(outcome)).Inc()
	c.commandLatency.Observe(latency.Seconds())
	if c.perInstanceEnabled {
		c.instanceCommands.WithLabelValues(strconv.Itoa(id)).Inc()
	}

	c.mu.Lock()
	c.outcomes[outcome]++
	c.mu.Unlock()
}

// DecodeFallback records a response that needed the ISO-8859-1 fallback.
func (c *Collector) DecodeFallback(id int) {
	c.fallbacksTotal.Inc()
}

// PipeBytes records the bytes read from an exited process's pipes. It
// implements exiftool.PipeObserver.
func (c *Collector) PipeBytes(id int, stdoutBytes, stderrBytes int64) {
	c.pipeBytesTotal.WithLabelValues("stdout").Add(float64(stdoutBytes))
	c.pipeBytesTotal.WithLabelValues("stderr").Add(float64(stderrBytes))
}

// =============================================================================
// Pool Events
// =============================================================================

// ProcessRestarted records a restart decided by the pool.
func (c *Collector) ProcessRestarted() {
	c.restartsTotal.Inc()

	c.mu.Lock()
	c.totalRestarts++
	c.mu.Unlock()
}

// FileProcessed records the final result for one input file.
func (c *Collector) FileProcessed(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.filesTotal.WithLabelValues("ok").Inc()
		c.filesOK++
		return
	}
	c.filesTotal.WithLabelValues("failed").Inc()
	c.filesFailed++
}

// SetVersion records the ExifTool version once it is known.
func (c *Collector) SetVersion(version string) {
	c.info.Reset()
	c.info.WithLabelValues(version).Set(1)
}

// RemoveInstance removes per-instance metrics for an instance.
// Only relevant when per-instance metrics are enabled.
func (c *Collector) RemoveInstance(id int) {
	if !c.perInstanceEnabled {
		return
	}
	c.instanceCommands.DeleteLabelValues(strconv.Itoa(id))
}

func exitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration      time.Duration
	Instances     int
	PeakActive    int
	TotalStarts   int64
	TotalRestarts int64
	Outcomes      map[exiftool.Outcome]int64
	ExitCodes     map[int]int64
	FilesOK       int64
	FilesFailed   int64
	UptimeP50     time.Duration
	UptimeP95     time.Duration
	UptimeMax     time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:      time.Since(c.startTime),
		Instances:     c.instances,
		PeakActive:    c.peakActive,
		TotalStarts:   c.totalStarts,
		TotalRestarts: c.totalRestarts,
		Outcomes:      make(map[exiftool.Outcome]int64, len(c.outcomes)),
		ExitCodes:     make(map[int]int64, len(c.exitCodes)),
		FilesOK:       c.filesOK,
		FilesFailed:   c.filesFailed,
	}
	for k, v := range c.outcomes {
		s.Outcomes[k] = v
	}
	for k, v := range c.exitCodes {
		s.ExitCodes[k] = v
	}

	if len(c.uptimes) > 0 {
		sorted := slices.Clone(c.uptimes)
		slices.Sort(sorted)
		s.UptimeP50 = percentile(sorted, 0.50)
		s.UptimeP95 = percentile(sorted, 0.95)
		s.UptimeMax = sorted[len(sorted)-1]
	}
	return s
}

// PeakActive returns the peak number of concurrently running processes.
func (c *Collector) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}

// FileCounts returns the number of files finished ok and failed.
func (c *Collector) FileCounts() (ok, failed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filesOK, c.filesFailed
}

// TotalStarts returns the total number of process starts.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalStarts
}

// TotalRestarts returns the total number of restarts.
func (c *Collector) TotalRestarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalRestarts
}

// PerInstanceEnabled returns whether per-instance metrics are enabled.
func (c *Collector) PerInstanceEnabled() bool {
	return c.perInstanceEnabled
}

// percentile returns the value at the given percentile (0.0-1.0) of a sorted
// slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

var (
	_ exiftool.Observer     = (*Collector)(nil)
	_ exiftool.PipeObserver = (*Collector)(nil)
)

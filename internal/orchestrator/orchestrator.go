package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/config"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/metrics"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/preflight"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/process"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/stats"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/timeseries"
)

// ErrFilesFailed is returned by Run when the run completed but at least one
// file could not be read.
var ErrFilesFailed = errors.New("some files failed")

// Streams are the standard streams of a run. Results go to Out, the
// preflight report and exit summary to Err.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdStreams returns os.Stdin, os.Stdout and os.Stderr.
func StdStreams() Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// Orchestrator coordinates all components of a batch run.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	streams Streams

	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	aggregator    *stats.Aggregator
	observer      exiftool.Observer
	pool          *Pool
	rate          *timeseries.RateTracker

	out       *json.Encoder
	version   string
	startTime time.Time
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, streams Streams) *Orchestrator {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Instances:          cfg.Instances,
		PerInstanceMetrics: cfg.PromInstanceMetrics,
	}, registry)
	aggregator := stats.NewAggregator()

	o := &Orchestrator{
		config:     cfg,
		logger:     logger,
		streams:    streams,
		registry:   registry,
		metrics:    collector,
		aggregator: aggregator,
		observer:   exiftool.MultiObserver(collector, aggregator),
		rate:       timeseries.NewRateTracker(),
		out:        json.NewEncoder(streams.Out),
	}
	o.out.SetEscapeHTML(false)

	o.pool = NewPool(PoolConfig{
		Instances:     cfg.Instances,
		NewInstance:   o.newInstance,
		Args:          cfg.Args,
		FileTimeout:   cfg.FileTimeout,
		Ramp:          NewRampScheduler(cfg.StartJitter),
		BackoffConfig: cfg.Backoff(),
		MaxRestarts:   cfg.MaxRestarts,
		Logger:        logger,
		Callbacks: PoolCallbacks{
			OnRestart: o.onRestart,
			OnFile:    o.onFile,
		},
	})

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, registry,
			func() bool { return o.pool.ActiveCount() > 0 }, logger)
	}
	return o
}

func (o *Orchestrator) newInstance(id int) (*exiftool.ExifTool, error) {
	cfg := o.config.ExifTool(id)
	cfg.Logger = o.logger
	cfg.Observer = o.observer
	return exiftool.New(cfg)
}

// Run reads all files and writes one JSON object per file to the output
// stream. It blocks until completion or SIGINT/SIGTERM.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	files, err := o.files()
	if err != nil {
		return err
	}

	if !o.config.SkipPreflight {
		if err := o.preflight(ctx); err != nil {
			return err
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	o.logger.Info("run_starting",
		"files", len(files),
		"instances", min(o.config.Instances, len(files)),
		"start_window", o.config.StartJitter.String(),
	)

	runErr := o.runPool(ctx, files)
	switch {
	case runErr == nil:
		o.logger.Info("run_complete", "files", len(files), "duration", time.Since(o.startTime).String())
	case ctx.Err() != nil || errors.Is(runErr, context.Canceled):
		o.logger.Info("run_interrupted", "files_done", o.pool.FilesDone(), "files", len(files))
	default:
		o.logger.Error("run_failed", "error", runErr)
	}

	if o.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
		cancel()
	}

	if o.config.MetricsFile != "" {
		if err := metrics.WriteTextfile(o.registry, o.config.MetricsFile); err != nil {
			o.logger.Warn("metrics_file_error", "path", o.config.MetricsFile, "error", err)
		}
	}

	if o.config.Summary {
		o.printExitSummary()
	}

	if runErr != nil {
		return runErr
	}
	if o.metrics.GenerateSummary().FilesFailed > 0 {
		return ErrFilesFailed
	}
	return nil
}

// Check runs the preflight checks and one start/stop cycle of a single
// instance.
func (o *Orchestrator) Check(ctx context.Context) error {
	if err := o.preflight(ctx); err != nil {
		return err
	}

	et, err := o.newInstance(0)
	if err != nil {
		return err
	}
	if err := et.Start(ctx); err != nil {
		return err
	}
	version, err := et.Version()
	if err != nil {
		et.Stop(false)
		return err
	}
	out, err := et.Execute(ctx, "-ver")
	if err != nil {
		et.Stop(false)
		return fmt.Errorf("stay-open round trip: %w", err)
	}
	if err := et.Stop(true); err != nil {
		return fmt.Errorf("graceful stop: %w", err)
	}

	fmt.Fprintf(o.streams.Err, "exiftool %s ok: -stay_open round trip returned %q\n",
		version, strings.TrimRight(out, "\r\n"))
	return nil
}

// CommandString returns the ExifTool command line a worker runs.
func (o *Orchestrator) CommandString() string {
	runner := process.NewExifToolRunner(&process.ExifToolConfig{
		BinaryPath: o.config.ExifToolPath,
		ConfigFile: o.config.ExifToolConfig,
	})
	return runner.CommandString()
}

func (o *Orchestrator) preflight(ctx context.Context) error {
	opts := preflight.Options{
		Instances:  o.config.Instances,
		Executable: o.config.ExifToolPath,
		ConfigFile: o.config.ExifToolConfig,
	}
	if o.config.MinVersion != "" {
		v, err := process.ParseVersion(o.config.MinVersion)
		if err != nil {
			return err
		}
		opts.MinVersion = &v
	}

	result := preflight.RunAll(ctx, opts)
	preflight.PrintResults(o.streams.Err, result)
	if !result.Passed {
		return errors.New("preflight checks failed (use -skip-preflight to override)")
	}
	if result.Version != "" {
		o.version = result.Version
		o.metrics.SetVersion(result.Version)
	}
	return nil
}

// files returns the positional files followed by those from -files-from.
func (o *Orchestrator) files() ([]string, error) {
	files := append([]string(nil), o.config.Files...)
	if o.config.FilesFrom == "" {
		return files, nil
	}

	var r io.Reader
	if o.config.FilesFrom == "-" {
		r = o.streams.In
	} else {
		f, err := os.Open(o.config.FilesFrom)
		if err != nil {
			return nil, fmt.Errorf("files-from: %w", err)
		}
		defer f.Close()
		r = f
	}

	more, err := config.ReadFileList(r)
	if err != nil {
		return nil, err
	}
	return append(files, more...), nil
}

// errorRecord is printed for a file that could not be read, in the shape
// of an ExifTool record.
type errorRecord struct {
	SourceFile string `json:"SourceFile"`
	Error      string `json:"Error"`
}

// emit writes one result. Called in input order.
func (o *Orchestrator) emit(r FileResult) error {
	if r.Err != nil {
		return o.out.Encode(errorRecord{SourceFile: r.File, Error: r.Err.Error()})
	}
	for _, rec := range r.Records {
		if err := o.out.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// Callback handlers

func (o *Orchestrator) onRestart(id, attempt int, delay time.Duration) {
	o.metrics.ProcessRestarted()
}

func (o *Orchestrator) onFile(r FileResult) {
	o.metrics.FileProcessed(r.Err == nil)
	o.rate.Add(1)
	if o.config.Verbose {
		o.logger.Debug("file_done",
			"instance", r.Instance,
			"file", r.File,
			"records", len(r.Records),
			"duration", r.Duration.String(),
			"error", r.Err,
		)
	}
}

// printExitSummary prints a summary of the run.
func (o *Orchestrator) printExitSummary() {
	summary := o.metrics.GenerateSummary()

	addr := ""
	if o.metricsServer != nil {
		addr = o.metricsServer.Addr()
	}

	fmt.Fprint(o.streams.Err, stats.FormatExitSummary(o.aggregator.Aggregate(), stats.SummaryConfig{
		Instances:       o.config.Instances,
		Duration:        time.Since(o.startTime),
		Version:         o.version,
		MetricsAddr:     addr,
		ShowPerInstance: o.config.SummaryInstances,
		FilesOK:         summary.FilesOK,
		FilesFailed:     summary.FilesFailed,
		StderrCounts:    o.pool.StderrCounts(),
	}))
}

// Pool returns the pool for external access.
func (o *Orchestrator) Pool() *Pool {
	return o.pool
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Registry returns the Prometheus registry the collector is registered with.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}

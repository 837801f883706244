package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-exiftool-stayopen/exiftool"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/supervisor"
)

// ErrRestartLimit is returned by Run when an instance crashed more often
// than PoolConfig.MaxRestarts allows.
var ErrRestartLimit = errors.New("restart limit reached")

// FileResult is the outcome for one input file.
type FileResult struct {
	Index    int
	File     string
	Records  []exiftool.Record
	Err      error
	Instance int
	Duration time.Duration
}

// PoolCallbacks contains optional callbacks for pool events.
type PoolCallbacks struct {
	// OnRestart is called before an instance is restarted after a crash.
	OnRestart func(id, attempt int, delay time.Duration)

	// OnFile is called once per file, from the worker that processed it.
	OnFile func(FileResult)
}

// PoolConfig holds configuration for the Pool.
type PoolConfig struct {
	// Instances is the number of ExifTool processes.
	Instances int

	// NewInstance builds the (stopped) ExifTool for worker id.
	NewInstance func(id int) (*exiftool.ExifTool, error)

	// Args are sent before each file name.
	Args []string

	// FileTimeout bounds one file. The instance is killed and restarted
	// when it expires. 0 disables it.
	FileTimeout time.Duration

	// Ramp staggers instance starts. nil starts all at once.
	Ramp *RampScheduler

	BackoffConfig supervisor.BackoffConfig

	// MaxRestarts per instance (0 = unlimited).
	MaxRestarts int

	Logger    *slog.Logger
	Callbacks PoolCallbacks
}

// Pool runs files through independent ExifTool instances, one worker per
// instance. Each instance serves one command at a time, so parallelism comes
// from the number of instances.
type Pool struct {
	config PoolConfig
	logger *slog.Logger

	mu        sync.RWMutex
	instances map[int]*exiftool.ExifTool

	restartCount atomic.Int64
	filesDone    atomic.Int64
}

type job struct {
	index int
	file  string
}

// NewPool creates a new Pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Instances < 1 {
		cfg.Instances = 1
	}
	if cfg.Ramp == nil {
		cfg.Ramp = NewRampScheduler(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		config:    cfg,
		logger:    logger,
		instances: make(map[int]*exiftool.ExifTool),
	}
}

// Run processes files and calls emit with the results in input order.
// Per-file failures are reported through FileResult.Err. A fatal error
// (an instance that cannot start or exceeds its restart limit, a failing
// emit, a cancelled ctx) stops the run; results after the first missing
// one are then dropped so that the emitted output is always a prefix.
func (p *Pool) Run(ctx context.Context, files []string, emit func(FileResult) error) error {
	if len(files) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	n := min(p.config.Instances, len(files))
	jobs := make(chan job)
	results := make(chan FileResult, n)

	g.Go(func() error {
		defer close(jobs)
		for i, f := range files {
			select {
			case jobs <- job{index: i, file: f}:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	for id := 0; id < n; id++ {
		id := id
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return p.worker(gctx, id, jobs, results)
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	// Reorder: results arrive in completion order.
	pending := make(map[int]FileResult)
	next := 0
	var emitErr error
	for r := range results {
		pending[r.Index] = r
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if emitErr != nil {
				continue
			}
			if err := emit(r); err != nil {
				emitErr = fmt.Errorf("emit result for %s: %w", r.File, err)
				cancel()
			}
		}
	}

	err := g.Wait()
	if emitErr != nil {
		return emitErr
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// worker owns one ExifTool instance for the whole run.
func (p *Pool) worker(ctx context.Context, id int, jobs <-chan job, results chan<- FileResult) error {
	if err := p.config.Ramp.Schedule(ctx, id); err != nil {
		return nil
	}

	et, err := p.config.NewInstance(id)
	if err != nil {
		return fmt.Errorf("instance %d: %w", id, err)
	}
	p.mu.Lock()
	p.instances[id] = et
	p.mu.Unlock()
	defer func() {
		if err := et.Stop(true); err != nil {
			p.logger.Debug("instance_stop_error", "instance", id, "error", err)
		}
	}()

	if err := et.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("instance %d: %w", id, err)
	}

	backoff := supervisor.NewBackoff(id, p.config.Ramp.Seed(), p.config.BackoffConfig)
	restarts := 0
	started := time.Now()
	commands := 0

	for j := range jobs {
		r := p.process(ctx, et, id, j)
		if ctx.Err() != nil {
			// Interrupted files are not reported.
			return nil
		}
		commands++
		if p.config.Callbacks.OnFile != nil {
			p.config.Callbacks.OnFile(r)
		}
		p.filesDone.Add(1)
		results <- r

		if et.Running() {
			continue
		}

		// The instance died (or was killed by the file timeout).
		if p.config.MaxRestarts > 0 && restarts >= p.config.MaxRestarts {
			return fmt.Errorf("instance %d: %w (%d)", id, ErrRestartLimit, p.config.MaxRestarts)
		}
		if supervisor.ShouldReset(time.Since(started), commands) {
			backoff.Reset()
		}
		restarts++
		delay := backoff.Next()

		p.restartCount.Add(1)
		p.logger.Warn("instance_restart_scheduled",
			"instance", id,
			"attempt", restarts,
			"delay", delay.String(),
			"file", j.file,
			"error", r.Err,
		)
		if p.config.Callbacks.OnRestart != nil {
			p.config.Callbacks.OnRestart(id, restarts, delay)
		}

		if !sleep(ctx, delay) {
			return nil
		}
		if err := et.Start(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("instance %d restart: %w", id, err)
		}
		started = time.Now()
		commands = 0
	}
	return nil
}

// process runs one file. A crash fails this file only; it is not retried.
func (p *Pool) process(ctx context.Context, et *exiftool.ExifTool, id int, j job) FileResult {
	fctx := ctx
	if p.config.FileTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, p.config.FileTimeout)
		defer cancel()
	}

	args := make([]string, 0, len(p.config.Args)+1)
	args = append(args, p.config.Args...)
	args = append(args, j.file)

	start := time.Now()
	records, err := et.ExecuteJSON(fctx, args...)
	r := FileResult{
		Index:    j.index,
		File:     j.file,
		Records:  records,
		Err:      err,
		Instance: id,
		Duration: time.Since(start),
	}
	if err != nil {
		p.logger.Debug("file_failed", "instance", id, "file", j.file, "error", err)
	}
	return r
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ActiveCount returns the number of running instances.
func (p *Pool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, et := range p.instances {
		if et.Running() {
			n++
		}
	}
	return n
}

// InstanceCount returns the number of instances created so far.
func (p *Pool) InstanceCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.instances)
}

// Instance returns the instance of worker id, or nil.
func (p *Pool) Instance(id int) *exiftool.ExifTool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.instances[id]
}

// RestartCount returns the total number of restarts.
func (p *Pool) RestartCount() int {
	return int(p.restartCount.Load())
}

// FilesDone returns the number of files processed, failed ones included.
func (p *Pool) FilesDone() int {
	return int(p.filesDone.Load())
}

// StderrCounts sums the known ExifTool messages seen by all instances.
func (p *Pool) StderrCounts() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	counts := make(map[string]int)
	for _, et := range p.instances {
		for k, v := range et.StderrCounts() {
			counts[k] += v
		}
	}
	return counts
}

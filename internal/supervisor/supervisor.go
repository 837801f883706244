package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-exiftool-stayopen/internal/parser"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/process"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/types"
)

// DefaultStopTimeout bounds how long a graceful Stop waits before killing.
const DefaultStopTimeout = 5 * time.Second

// stopCommand ends -stay_open mode. ExifTool reads it as two argfile lines.
const stopCommand = "-stay_open\nFalse\n"

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the state changes.
	OnStateChange func(id int, oldState, newState State)

	// OnStart is called once the process has been spawned.
	OnStart func(id int, pid int)

	// OnExit is called when the process has exited and its pipes are drained.
	OnExit func(id int, pid int, exitCode int, uptime time.Duration)

	// OnPipesClosed is called just before OnExit with the bytes read from
	// each pipe over the life of the process.
	OnPipesClosed func(id int, stdoutBytes, stderrBytes int64)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	// ID identifies the instance in logs and callbacks.
	ID int

	Runner    process.Runner
	Logger    *slog.Logger
	Callbacks Callbacks

	// Executable is reported in start errors. Defaults to Runner.Name().
	Executable string

	// BlockSize is the pipe read size. Defaults to parser.DefaultBlockSize.
	BlockSize int

	// StopTimeout bounds graceful shutdown. Defaults to DefaultStopTimeout.
	StopTimeout time.Duration
}

// proc is one spawned process and its pipes.
type proc struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *parser.ChunkReader
	stderr  *parser.ChunkReader
	pid     int
	started time.Time

	// exited is closed once the pipes hit EOF and Wait returned.
	// exitCode is only valid after that.
	exited   chan struct{}
	exitCode int

	// reaping is set under killMu before Wait. From then on the pid may be
	// reused and must not be signalled.
	killMu  sync.Mutex
	reaping bool
}

// Supervisor manages the lifecycle of a single stay-open process.
//
// Unlike a restart loop it never respawns on its own: a process that dies
// stays dead until the owner calls Start again.
type Supervisor struct {
	id          int
	runner      process.Runner
	executable  string
	logger      *slog.Logger
	callbacks   Callbacks
	blockSize   int
	stopTimeout time.Duration

	// State management
	state   State
	stateMu sync.RWMutex

	// cmdMu serializes Start and Stop and guards cur.
	cmdMu    sync.Mutex
	cur      *proc
	lastExit int
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executable := cfg.Executable
	if executable == "" && cfg.Runner != nil {
		executable = cfg.Runner.Name()
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	return &Supervisor{
		id:          cfg.ID,
		runner:      cfg.Runner,
		executable:  executable,
		logger:      logger,
		callbacks:   cfg.Callbacks,
		blockSize:   cfg.BlockSize,
		stopTimeout: stopTimeout,
		state:       StateCreated,
	}
}

// Start spawns the process. It fails with ErrAlreadyRunning if a process is
// already owned, and with *types.ProcessStartError if it cannot be spawned.
//
// ctx only guards the spawn itself; the process outlives it.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.cur != nil {
		return &types.ProcessStateError{Op: "start", Running: true}
	}

	s.setState(StateStarting)

	p, err := s.spawn()
	if err != nil {
		s.setState(StateStopped)
		s.logger.Error("exiftool_start_failed",
			"id", s.id,
			"executable", s.executable,
			"error", err,
		)
		return &types.ProcessStartError{Executable: s.executable, Err: err}
	}

	s.cur = p
	s.setState(StateRunning)

	s.logger.Info("exiftool_started",
		"id", s.id,
		"pid", p.pid,
		"args", p.cmd.Args[1:],
	)

	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(s.id, p.pid)
	}
	return nil
}

func (s *Supervisor) spawn() (*proc, error) {
	if s.runner == nil {
		return nil, errors.New("no runner configured")
	}
	cmd, err := s.runner.BuildCommand()
	if err != nil {
		return nil, err
	}
	setSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &proc{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  parser.NewChunkReader(stdout, "stdout", s.blockSize),
		stderr:  parser.NewChunkReader(stderr, "stderr", s.blockSize),
		pid:     cmd.Process.Pid,
		started: time.Now(),
		exited:  make(chan struct{}),
	}
	go p.stdout.Run()
	go p.stderr.Run()
	go s.wait(p)

	return p, nil
}

// wait reaps the process. Wait closes the pipes, so it must only run after
// both readers have seen EOF.
func (s *Supervisor) wait(p *proc) {
	<-p.stdout.Done()
	<-p.stderr.Done()

	p.killMu.Lock()
	p.reaping = true
	p.killMu.Unlock()

	waitErr := p.cmd.Wait()
	p.exitCode = extractExitCode(waitErr)
	uptime := time.Since(p.started)
	stdoutBytes, _ := p.stdout.Stats()
	stderrBytes, _ := p.stderr.Stats()

	s.logger.Info("exiftool_exited",
		"id", s.id,
		"pid", p.pid,
		"exit_code", p.exitCode,
		"uptime", uptime.String(),
		"stdout_bytes", stdoutBytes,
		"stderr_bytes", stderrBytes,
	)

	if s.callbacks.OnPipesClosed != nil {
		s.callbacks.OnPipesClosed(s.id, stdoutBytes, stderrBytes)
	}
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(s.id, p.pid, p.exitCode, uptime)
	}
	close(p.exited)
}

// Write sends framed bytes to the process stdin. The pipe is unbuffered on
// our side, so a successful Write has been handed to the OS.
func (s *Supervisor) Write(b []byte) error {
	p := s.current()
	if p == nil {
		return &types.ProcessStateError{Op: "write"}
	}
	if _, err := p.stdin.Write(b); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// Read blocks until the response for sentinel has been read from both
// streams. See parser.ReadResponse for the error contract.
func (s *Supervisor) Read(ctx context.Context, sentinel parser.Sentinel) (parser.Response, error) {
	p := s.current()
	if p == nil {
		return parser.Response{}, &types.ProcessStateError{Op: "read"}
	}
	return parser.ReadResponse(ctx, p.stdout, p.stderr, sentinel)
}

func (s *Supervisor) current() *proc {
	if s.State() != StateRunning {
		return nil
	}
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.cur
}

// Stop ends the process. Graceful asks ExifTool to leave -stay_open mode and
// waits up to the stop timeout before killing; otherwise the process group
// is killed at once. Stop always leaves the supervisor stopped with every
// pipe closed, also when the process had already died, and is a no-op when
// nothing is running.
//
// A non-nil error only reports that a graceful stop had to kill.
func (s *Supervisor) Stop(graceful bool) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	p := s.cur
	if p == nil {
		if s.State() != StateCreated {
			s.setState(StateStopped)
		}
		return nil
	}

	s.setState(StateStopping)
	s.cur = nil

	if graceful {
		if _, err := io.WriteString(p.stdin, stopCommand); err != nil {
			s.logger.Debug("exiftool_stop_write_failed", "id", s.id, "pid", p.pid, "error", err)
		}
	}
	p.stdin.Close()

	// Nobody reads responses any more; keep the pipes flowing until EOF.
	go p.stdout.Drain()
	go p.stderr.Drain()

	var stopErr error
	if !graceful {
		s.kill(p)
	} else {
		select {
		case <-p.exited:
		case <-time.After(s.stopTimeout):
			s.logger.Warn("force_killing_process",
				"id", s.id,
				"pid", p.pid,
				"timeout", s.stopTimeout.String(),
			)
			s.kill(p)
			stopErr = errors.New("process did not exit gracefully")
		}
	}

	select {
	case <-p.exited:
		s.lastExit = p.exitCode
	case <-time.After(s.stopTimeout):
		// Something outside our process group holds the pipes open.
		s.logger.Error("exiftool_not_reaped",
			"id", s.id,
			"pid", p.pid,
		)
		s.lastExit = -1
	}

	s.setState(StateStopped)
	return stopErr
}

// kill sends SIGKILL unless the process is already being reaped, and
// reports whether a signal was sent.
func (s *Supervisor) kill(p *proc) bool {
	p.killMu.Lock()
	defer p.killMu.Unlock()

	if p.reaping {
		return false
	}
	if err := killProcess(p.cmd.Process); err != nil {
		s.logger.Debug("exiftool_kill_failed", "id", s.id, "pid", p.pid, "error", err)
	}
	return true
}

// Running reports the cached state. It does not probe the OS: a process
// that died while idle is noticed by the next Read.
func (s *Supervisor) Running() bool {
	return s.State() == StateRunning
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(s.id, oldState, newState)
	}
}

// ID returns the instance ID.
func (s *Supervisor) ID() int {
	return s.id
}

// Pid returns the process id, or 0 when not running.
func (s *Supervisor) Pid() int {
	p := s.current()
	if p == nil {
		return 0
	}
	return p.pid
}

// LastExitCode returns the exit code of the most recently stopped process,
// or -1 when it could not be reaped.
func (s *Supervisor) LastExitCode() int {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.lastExit
}

// Uptime returns the current uptime if running, or 0 if not.
func (s *Supervisor) Uptime() time.Duration {
	p := s.current()
	if p == nil {
		return 0
	}
	return time.Since(p.started)
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}

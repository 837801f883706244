package exiftool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-exiftool-stayopen/internal/logging"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/parser"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/process"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/supervisor"
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/types"
)

// Result is the output of one command.
type Result struct {
	Stdout string
	Stderr string
	Status int
}

// ExifTool drives one ExifTool process in -stay_open mode.
//
// Calls are serialized: concurrent callers queue and each gets its own
// response. A process that dies is never restarted implicitly; the caller
// decides whether to Start again.
type ExifTool struct {
	id         int
	executable string
	logger     *slog.Logger
	observer   Observer
	codec      *TextCodec
	minVersion *process.Version
	checkExec  bool

	sup       *supervisor.Supervisor
	sentinels *parser.SentinelSource
	stderrLog *logging.StderrHandler

	// callMu serializes commands, Start and graceful Stop.
	callMu sync.Mutex

	// cfgMu guards commonArgs and decoder.
	cfgMu      sync.RWMutex
	commonArgs []string
	decoder    JSONDecoder

	// resMu guards the fields below.
	resMu   sync.Mutex
	version string
	last    Result
	hasLast bool
}

// New creates a stopped instance. Call Start before executing commands.
func New(cfg Config) (*ExifTool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	codec, err := NewTextCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	executable := cfg.Executable
	if executable == "" {
		executable = process.DefaultExecutable()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	decoder := cfg.JSONDecoder
	if decoder == nil {
		decoder = StdJSONDecoder{}
	}

	var minVersion *process.Version
	if cfg.MinVersion != "" {
		v, err := process.ParseVersion(cfg.MinVersion)
		if err != nil {
			return nil, err
		}
		minVersion = &v
	}

	runner := process.NewExifToolRunner(&process.ExifToolConfig{
		BinaryPath: executable,
		ConfigFile: cfg.ConfigFile,
	})

	e := &ExifTool{
		id:         cfg.ID,
		executable: executable,
		logger:     logger,
		observer:   observer,
		codec:      codec,
		minVersion: minVersion,
		checkExec:  cfg.CheckExecute,
		sentinels:  parser.NewSentinelSourceFromTime(),
		stderrLog:  logging.NewStderrHandler(cfg.ID, logger, false),
		commonArgs: append([]string(nil), cfg.CommonArgs...),
		decoder:    decoder,
	}
	callbacks := supervisor.Callbacks{
		OnStart: observer.ProcessStarted,
		OnExit:  observer.ProcessStopped,
		OnStateChange: func(id int, from, to supervisor.State) {
			logger.Debug("exiftool_state",
				"id", id,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	if po, ok := observer.(PipeObserver); ok {
		callbacks.OnPipesClosed = po.PipeBytes
	}
	e.sup = supervisor.New(supervisor.Config{
		ID:          cfg.ID,
		Runner:      runner,
		Logger:      logger,
		Executable:  executable,
		BlockSize:   cfg.BlockSize,
		StopTimeout: cfg.StopTimeout,
		Callbacks:   callbacks,
	})
	return e, nil
}

// Start spawns the process and checks its version.
//
// It fails with ErrAlreadyRunning when running, *ProcessStartError when the
// executable cannot be started or dies before answering, and *VersionError
// when it is older than Config.MinVersion.
func (e *ExifTool) Start(ctx context.Context) error {
	e.callMu.Lock()
	defer e.callMu.Unlock()
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	if e.sup.Running() {
		return &types.ProcessStateError{Op: "start", Running: true}
	}
	if err := e.sup.Start(ctx); err != nil {
		return err
	}
	e.sentinels.Reset()

	resp, err := e.exchange(ctx, nil, []string{"-ver"}, false)
	if err != nil {
		e.sup.Stop(false)
		var verr *types.VersionError
		switch {
		case errors.As(err, &verr):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return &types.ProcessStartError{Executable: e.executable, Err: err}
		}
	}

	raw, _ := e.codec.Decode(resp.Stdout)
	raw = strings.TrimSpace(raw)
	v, err := process.ParseVersion(raw)
	if err != nil {
		e.sup.Stop(false)
		return &types.VersionError{Version: raw, Reason: err.Error()}
	}
	if e.minVersion != nil && !v.AtLeast(*e.minVersion) {
		e.sup.Stop(true)
		return &types.VersionError{Version: raw, Reason: "need at least " + e.minVersion.String()}
	}

	e.resMu.Lock()
	e.version = raw
	e.resMu.Unlock()

	e.logger.Info("exiftool_ready",
		"id", e.id,
		"pid", e.sup.Pid(),
		"version", raw,
		"common_args", e.commonArgs,
	)
	return nil
}

// Stop ends the process. A graceful stop waits for the in-flight command
// and asks ExifTool to exit; otherwise the process is killed at once and
// any in-flight command fails with *ProcessTerminatedError.
//
// Stop on a stopped instance is a no-op. A non-nil error reports that a
// graceful stop timed out and the process was killed.
func (e *ExifTool) Stop(graceful bool) error {
	if graceful {
		e.callMu.Lock()
		defer e.callMu.Unlock()
	}
	wasRunning := e.sup.Running()
	err := e.sup.Stop(graceful)
	if wasRunning {
		e.logger.Info("exiftool_stopped",
			"id", e.id,
			"graceful", graceful,
			"exit_code", e.sup.LastExitCode(),
		)
	}
	return err
}

// Running reports whether the process is believed to be alive. A process
// that died while idle is reported as running until the next command.
func (e *ExifTool) Running() bool {
	return e.sup.Running()
}

// Pid returns the process id, or 0 when stopped.
func (e *ExifTool) Pid() int {
	return e.sup.Pid()
}

// ID returns Config.ID.
func (e *ExifTool) ID() int {
	return e.id
}

// Version returns the ExifTool version reported at Start.
func (e *ExifTool) Version() (string, error) {
	if !e.sup.Running() {
		return "", &types.ProcessStateError{Op: "version"}
	}
	e.resMu.Lock()
	defer e.resMu.Unlock()
	return e.version, nil
}

// LastResult returns the result of the most recent completed command. It
// survives Stop. ok is false if no command has completed yet.
func (e *ExifTool) LastResult() (res Result, ok bool) {
	e.resMu.Lock()
	defer e.resMu.Unlock()
	return e.last, e.hasLast
}

// StderrCounts counts known ExifTool messages ("Warning:", "File not found",
// ...) among the recently buffered stderr lines.
func (e *ExifTool) StderrCounts() map[string]int {
	return e.stderrLog.CountErrors()
}

// CommonArgs returns a copy of the arguments prepended to every command.
func (e *ExifTool) CommonArgs() []string {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return append([]string(nil), e.commonArgs...)
}

// SetCommonArgs replaces the common arguments. It fails with
// ErrAlreadyRunning while the process runs. nil or empty disables them.
func (e *ExifTool) SetCommonArgs(args []string) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	if e.sup.Running() {
		return &types.ProcessStateError{Op: "set_common_args", Running: true}
	}
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, "\r\n") {
			return &types.InvalidArgumentsError{Args: args, Reason: "common arguments must be non-empty single lines"}
		}
	}
	if err := e.codec.EncodeArgs(args); err != nil {
		return err
	}
	e.commonArgs = append([]string(nil), args...)
	return nil
}

// SetJSONDecoder replaces the decoder used by ExecuteJSON. It may be called
// at any time; nil restores StdJSONDecoder.
func (e *ExifTool) SetJSONDecoder(d JSONDecoder) {
	if d == nil {
		d = StdJSONDecoder{}
	}
	e.cfgMu.Lock()
	e.decoder = d
	e.cfgMu.Unlock()
}

// Execute runs one command and returns its stdout. With Config.CheckExecute
// a non-zero exit status is returned as *ExecuteError.
func (e *ExifTool) Execute(ctx context.Context, args ...string) (string, error) {
	start := time.Now()
	res, _, err := e.run(ctx, args, false)
	if err == nil && e.checkExec && res.Status != 0 {
		err = executeError(res, args)
	}
	e.observe(args, start, err)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// ExecuteBytes is Execute without decoding: stdout is returned as the bytes
// ExifTool wrote, sentinel removed.
func (e *ExifTool) ExecuteBytes(ctx context.Context, args ...string) ([]byte, error) {
	start := time.Now()
	res, raw, err := e.run(ctx, args, false)
	if err == nil && e.checkExec && res.Status != 0 {
		err = executeError(res, args)
	}
	e.observe(args, start, err)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// ExecuteJSON runs one command with -json appended and decodes the output.
//
// A non-zero exit status is *ExecuteError, blank output is
// *OutputEmptyError, and output the decoder rejects is *JSONInvalidError,
// checked in that order.
func (e *ExifTool) ExecuteJSON(ctx context.Context, args ...string) ([]Record, error) {
	start := time.Now()
	records, err := e.executeJSON(ctx, args)
	e.observe(args, start, err)
	return records, err
}

func (e *ExifTool) executeJSON(ctx context.Context, args []string) ([]Record, error) {
	res, _, err := e.run(ctx, args, true)
	if err != nil {
		return nil, err
	}
	if res.Status != 0 {
		return nil, executeError(res, args)
	}
	if isBlank(res.Stdout) {
		return nil, &types.OutputEmptyError{ExecuteError: *executeError(res, args)}
	}

	e.cfgMu.RLock()
	decoder := e.decoder
	e.cfgMu.RUnlock()

	v, err := decoder.Decode([]byte(res.Stdout))
	if err == nil {
		var records []Record
		if records, err = toRecords(v); err == nil {
			return records, nil
		}
	}
	return nil, &types.JSONInvalidError{ExecuteError: *executeError(res, args), Err: err}
}

// run performs one serialized round trip and records the result.
func (e *ExifTool) run(ctx context.Context, args []string, jsonMode bool) (Result, []byte, error) {
	e.callMu.Lock()
	defer e.callMu.Unlock()

	e.cfgMu.RLock()
	common := e.commonArgs
	e.cfgMu.RUnlock()

	resp, err := e.exchange(ctx, common, args, jsonMode)
	if err != nil {
		return Result{}, nil, err
	}

	stdout, fb1 := e.codec.Decode(resp.Stdout)
	stderr, fb2 := e.codec.Decode(resp.Stderr)
	if fb1 || fb2 {
		e.logger.Debug("exiftool_decode_fallback",
			"id", e.id,
			"encoding", e.codec.Name(),
			"args", args,
		)
		e.observer.DecodeFallback(e.id)
	}
	res := Result{Stdout: stdout, Stderr: stderr, Status: resp.Status}

	e.resMu.Lock()
	e.last, e.hasLast = res, true
	e.resMu.Unlock()

	if stderr != "" {
		e.stderrLog.HandleOutput(stderr, args)
	}
	return res, resp.Stdout, nil
}

// exchange frames a command, writes it and reads the response. Any failure
// after the write leaves the process out of step with us, so it is killed.
func (e *ExifTool) exchange(ctx context.Context, common, args []string, jsonMode bool) (parser.Response, error) {
	if !e.sup.Running() {
		return parser.Response{}, &types.ProcessStateError{Op: "execute"}
	}
	if err := e.codec.EncodeArgs(args); err != nil {
		return parser.Response{}, err
	}

	sentinel := e.sentinels.Next()
	framed, err := parser.Frame(parser.Request{
		CommonArgs: common,
		Args:       args,
		JSON:       jsonMode,
		Sentinel:   sentinel,
	})
	if err != nil {
		return parser.Response{}, err
	}
	payload, err := e.codec.Encode(string(framed))
	if err != nil {
		return parser.Response{}, &types.InvalidArgumentsError{Args: args, Reason: err.Error()}
	}

	if err := e.sup.Write(payload); err != nil {
		if errors.Is(err, types.ErrNotRunning) {
			return parser.Response{}, &types.ProcessStateError{Op: "execute"}
		}
		return parser.Response{}, e.terminated(args, nil, nil, err)
	}

	resp, err := e.sup.Read(ctx, sentinel)
	if err == nil {
		return resp, nil
	}

	var closed *parser.StreamClosedError
	switch {
	case errors.As(err, &closed):
		return parser.Response{}, e.terminated(args, closed.Stdout, closed.Stderr, err)
	case errors.Is(err, types.ErrNotRunning):
		// Killed between our write and read.
		return parser.Response{}, e.terminated(args, nil, nil, terminationCause(err))
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		e.logger.Warn("exiftool_command_cancelled",
			"id", e.id,
			"args", args,
			"error", err,
		)
		e.sup.Stop(false)
		return parser.Response{}, err
	default:
		// A malformed status echo: the stream is still in step.
		return resp, err
	}
}

// terminated stops the supervisor and builds the error for a command the
// process did not survive.
func (e *ExifTool) terminated(args []string, stdout, stderr []byte, cause error) error {
	e.sup.Stop(false)
	exitCode := e.sup.LastExitCode()

	if len(stderr) > 0 {
		text, _ := e.codec.Decode(stderr)
		e.stderrLog.HandleOutput(text, args)
	}
	e.logger.Warn("exiftool_terminated",
		"id", e.id,
		"args", args,
		"exit_code", exitCode,
		"stdout_bytes", len(stdout),
		"recent_stderr", e.stderrLog.RecentLines(5),
	)

	return &types.ProcessTerminatedError{
		Args:     args,
		Stdout:   append([]byte(nil), stdout...),
		Stderr:   append([]byte(nil), stderr...),
		ExitCode: exitCode,
		Err:      cause,
	}
}

// terminationCause maps a read failure to the Err of a
// ProcessTerminatedError. A state error is replaced: the command was written
// to a live process, so the caller must not see ErrNotRunning.
func terminationCause(err error) error {
	if errors.Is(err, types.ErrNotRunning) {
		return parser.ErrStreamClosed
	}
	return err
}

func (e *ExifTool) observe(args []string, start time.Time, err error) {
	latency := time.Since(start)
	outcome := outcomeOf(err)
	e.observer.CommandCompleted(e.id, outcome, latency)
	e.logger.Debug("exiftool_command",
		"id", e.id,
		"args", args,
		"outcome", string(outcome),
		"latency", latency.String(),
	)
}

func outcomeOf(err error) Outcome {
	var (
		jsonErr  *types.JSONInvalidError
		emptyErr *types.OutputEmptyError
		execErr  *types.ExecuteError
		argsErr  *types.InvalidArgumentsError
	)
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &jsonErr):
		return OutcomeInvalidJSON
	case errors.As(err, &emptyErr):
		return OutcomeEmpty
	case errors.As(err, &execErr):
		return OutcomeExecute
	case errors.As(err, &argsErr):
		return OutcomeInvalidArgs
	case types.IsTerminated(err):
		return OutcomeTerminated
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

func executeError(res Result, args []string) *types.ExecuteError {
	return &types.ExecuteError{
		Status: res.Status,
		Stdout: res.Stdout,
		Stderr: res.Stderr,
		Args:   args,
	}
}

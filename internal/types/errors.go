// Package types holds the error taxonomy shared by the supervisor, the
// framing/reading layer and the public exiftool package.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// ProcessStateError reports a call made in the wrong process state.
// Running records the state the caller needed to be different.
type ProcessStateError struct {
	Op      string
	Running bool
}

func (e *ProcessStateError) Error() string {
	if e.Running {
		return fmt.Sprintf("exiftool: %s: process already running", e.Op)
	}
	return fmt.Sprintf("exiftool: %s: process not running", e.Op)
}

// Is lets errors.Is match any ProcessStateError with the same Running value,
// so ErrAlreadyRunning and ErrNotRunning work as sentinels.
func (e *ProcessStateError) Is(target error) bool {
	t, ok := target.(*ProcessStateError)
	if !ok {
		return false
	}
	return t.Running == e.Running && (t.Op == "" || t.Op == e.Op)
}

var (
	// ErrAlreadyRunning matches every ProcessStateError raised because the
	// process was running.
	ErrAlreadyRunning = &ProcessStateError{Running: true}

	// ErrNotRunning matches every ProcessStateError raised because the
	// process was not running.
	ErrNotRunning = &ProcessStateError{Running: false}
)

// ProcessStartError is returned when the executable cannot be located,
// spawned, or dies before answering its first command.
type ProcessStartError struct {
	Executable string
	Err        error
}

func (e *ProcessStartError) Error() string {
	return fmt.Sprintf("exiftool: cannot start %q: %v", e.Executable, e.Err)
}

func (e *ProcessStartError) Unwrap() error { return e.Err }

// ProcessTerminatedError is returned when the process goes away while a
// command is in flight. Stdout and Stderr hold whatever was captured before
// the pipes closed.
type ProcessTerminatedError struct {
	Args     []string
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Err      error
}

func (e *ProcessTerminatedError) Error() string {
	return fmt.Sprintf("exiftool: process terminated during command %s (exit code %d, %d bytes stdout, %d bytes stderr captured)",
		quoteArgs(e.Args), e.ExitCode, len(e.Stdout), len(e.Stderr))
}

func (e *ProcessTerminatedError) Unwrap() error { return e.Err }

// InvalidArgumentsError is returned for a malformed call. Nothing has been
// written to the process when it is returned.
type InvalidArgumentsError struct {
	Args   []string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("exiftool: invalid arguments %s: %s", quoteArgs(e.Args), e.Reason)
}

// ExecuteError is returned when a command finished with a non-zero exit
// status.
type ExecuteError struct {
	Status int
	Stdout string
	Stderr string
	Args   []string
}

func (e *ExecuteError) Error() string {
	msg := fmt.Sprintf("exiftool: command %s exited with status %d", quoteArgs(e.Args), e.Status)
	if s := firstLine(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// OutputEmptyError is returned by JSON calls that printed nothing.
// The usual cause is an argument that turned a read into a write,
// e.g. "-Comment=x" where "-Comment" was meant.
type OutputEmptyError struct {
	ExecuteError
}

func (e *OutputEmptyError) Error() string {
	return fmt.Sprintf("exiftool: command %s returned no output (status %d)", quoteArgs(e.Args), e.Status)
}

// JSONInvalidError is returned by JSON calls whose output the configured
// decoder rejected. A -w argument redirecting output to files is a common cause.
type JSONInvalidError struct {
	ExecuteError
	Err error
}

func (e *JSONInvalidError) Error() string {
	return fmt.Sprintf("exiftool: command %s returned invalid JSON: %v", quoteArgs(e.Args), e.Err)
}

func (e *JSONInvalidError) Unwrap() error { return e.Err }

// VersionError is returned when the executable does not behave like a
// supported ExifTool: too old, or echoing an unparsable exit status.
type VersionError struct {
	Version string
	Reason  string
}

func (e *VersionError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("exiftool: unsupported version %q: %s", e.Version, e.Reason)
	}
	return "exiftool: unsupported version: " + e.Reason
}

// IsTerminated reports whether err means the process died mid-command.
func IsTerminated(err error) bool {
	var te *ProcessTerminatedError
	return errors.As(err, &te)
}

func quoteArgs(args []string) string {
	if len(args) == 0 {
		return "[]"
	}
	q := make([]string, len(args))
	for i, a := range args {
		q[i] = fmt.Sprintf("%q", a)
	}
	return "[" + strings.Join(q, " ") + "]"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

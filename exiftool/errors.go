package exiftool

import (
	"github.com/randomizedcoder/go-exiftool-stayopen/internal/types"
)

// ProcessStateError is an alias to types.ProcessStateError.
// Match it with errors.Is(err, ErrAlreadyRunning) or errors.Is(err, ErrNotRunning).
type ProcessStateError = types.ProcessStateError

// ProcessStartError is an alias to types.ProcessStartError.
// The executable could not be found, spawned, or died before answering.
type ProcessStartError = types.ProcessStartError

// ProcessTerminatedError is an alias to types.ProcessTerminatedError.
// The process died while a command was in flight; Start again before reuse.
type ProcessTerminatedError = types.ProcessTerminatedError

// InvalidArgumentsError is an alias to types.InvalidArgumentsError.
type InvalidArgumentsError = types.InvalidArgumentsError

// ExecuteError is an alias to types.ExecuteError.
type ExecuteError = types.ExecuteError

// OutputEmptyError is an alias to types.OutputEmptyError.
type OutputEmptyError = types.OutputEmptyError

// JSONInvalidError is an alias to types.JSONInvalidError.
type JSONInvalidError = types.JSONInvalidError

// VersionError is an alias to types.VersionError.
type VersionError = types.VersionError

var (
	// ErrAlreadyRunning is matched by errors from Start and SetCommonArgs
	// while the process runs.
	ErrAlreadyRunning = types.ErrAlreadyRunning

	// ErrNotRunning is matched by errors from calls made while stopped.
	ErrNotRunning = types.ErrNotRunning
)

// IsTerminated reports whether err means the process died mid-command.
func IsTerminated(err error) bool {
	return types.IsTerminated(err)
}

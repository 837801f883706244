// Package process builds the ExifTool command line and probes the binary.
package process

import (
	"os/exec"
)

// Runner creates the command for a stay-open process.
// This interface allows the supervisor to be process-agnostic.
type Runner interface {
	// BuildCommand returns a ready-to-start command.
	// The command should NOT be started yet.
	BuildCommand() (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}

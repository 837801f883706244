// Package supervisor owns the single stay-open ExifTool process behind an
// instance: spawning it, feeding its stdin, and tearing it down.
package supervisor

// State represents the lifecycle state of the supervised process.
type State int

const (
	// StateCreated is the initial state before the first start.
	StateCreated State = iota

	// StateStarting indicates the process is being spawned.
	StateStarting

	// StateRunning indicates the process accepts commands.
	StateRunning

	// StateStopping indicates shutdown is in progress.
	StateStopping

	// StateStopped indicates the process is gone. Start may be called again.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive returns true while a process exists or is being spawned.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// CanStart returns true if Start is allowed from this state.
func (s State) CanStart() bool {
	return s == StateCreated || s == StateStopped
}

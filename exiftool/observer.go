package exiftool

import "time"

// Outcome classifies a finished command for observers.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeExecute     Outcome = "execute_error"
	OutcomeEmpty       Outcome = "output_empty"
	OutcomeInvalidJSON Outcome = "json_invalid"
	OutcomeInvalidArgs Outcome = "invalid_args"
	OutcomeTerminated  Outcome = "terminated"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeError       Outcome = "error"
)

// Observer receives lifecycle and per-command events. Implementations must
// be safe for concurrent use and must not call back into the ExifTool that
// reports to them.
type Observer interface {
	ProcessStarted(id, pid int)
	ProcessStopped(id, pid, exitCode int, uptime time.Duration)
	CommandCompleted(id int, outcome Outcome, latency time.Duration)
	DecodeFallback(id int)
}

// PipeObserver is implemented by observers that also want the number of
// bytes read from each pipe of a process once it has exited.
type PipeObserver interface {
	PipeBytes(id int, stdoutBytes, stderrBytes int64)
}

type nopObserver struct{}

func (nopObserver) ProcessStarted(int, int) {}

func (nopObserver) ProcessStopped(int, int, int, time.Duration) {}

func (nopObserver) CommandCompleted(int, Outcome, time.Duration) {}

func (nopObserver) DecodeFallback(int) {}

// MultiObserver fans events out to every non-nil observer, in order.
func MultiObserver(observers ...Observer) Observer {
	var list multiObserver
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) ProcessStarted(id, pid int) {
	for _, o := range m {
		o.ProcessStarted(id, pid)
	}
}

func (m multiObserver) ProcessStopped(id, pid, exitCode int, uptime time.Duration) {
	for _, o := range m {
		o.ProcessStopped(id, pid, exitCode, uptime)
	}
}

func (m multiObserver) CommandCompleted(id int, outcome Outcome, latency time.Duration) {
	for _, o := range m {
		o.CommandCompleted(id, outcome, latency)
	}
}

func (m multiObserver) DecodeFallback(id int) {
	for _, o := range m {
		o.DecodeFallback(id)
	}
}

func (m multiObserver) PipeBytes(id int, stdoutBytes, stderrBytes int64) {
	for _, o := range m {
		if po, ok := o.(PipeObserver); ok {
			po.PipeBytes(id, stdoutBytes, stderrBytes)
		}
	}
}

//go:build unix

package supervisor

import (
	"os"
	"syscall"
)

// killProcess sends SIGKILL to the process group, falling back to the
// process itself.
func killProcess(p *os.Process) error {
	if pgid, err := syscall.Getpgid(p.Pid); err == nil {
		return syscall.Kill(-pgid, syscall.SIGKILL)
	}
	return p.Kill()
}

//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

func setSysProcAttr(cmd *exec.Cmd) {}

func killProcess(p *os.Process) error {
	return p.Kill()
}

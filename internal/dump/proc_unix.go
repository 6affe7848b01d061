//go:build !windows

package dump

import (
	"os"
	"os/exec"
	"syscall"
)

// isolate starts the tool in its own process group so wrapper scripts and
// their children can be killed together.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree kills the process group led by p.
func killTree(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		return p.Kill()
	}
	return nil
}

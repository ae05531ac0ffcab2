//go:build unix

package steps

import (
	"os/exec"
	"syscall"
)

// setProcessGroup runs the command in its own process group so cancellation
// also kills whatever the shell spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

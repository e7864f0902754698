//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
	"time"
)

// configureCommand places the worker in its own process group so a kill
// reaches any children it spawned.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the worker's process group, waits up to grace
// for it to exit, then sends SIGKILL.
func (w *activeWorker) terminate(grace time.Duration) error {
	if w.cmd.Process == nil {
		return nil
	}
	pid := w.cmd.Process.Pid

	// Negative pid targets the process group.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// Fall back to the single process; the group may be gone already.
		_ = w.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-w.done:
		return nil
	case <-time.After(grace):
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return w.cmd.Process.Kill()
	}
	return nil
}

//go:build windows

package supervisor

import (
	"os/exec"
	"strconv"
	"time"
)

func configureCommand(cmd *exec.Cmd) {}

// terminate asks taskkill to take down the worker's process tree; Windows
// has no process-group signal equivalent to SIGTERM.
func (w *activeWorker) terminate(grace time.Duration) error {
	if w.cmd.Process == nil {
		return nil
	}
	pid := w.cmd.Process.Pid

	_ = exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T").Run()

	select {
	case <-w.done:
		return nil
	case <-time.After(grace):
	}

	if err := exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid), "/T").Run(); err != nil {
		return w.cmd.Process.Kill()
	}
	return nil
}

package process

import (
	"os"
	"syscall"
	"time"
)

// IsProcessAlive checks if a process with the given PID is still running.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 probes for existence. EPERM still means the process exists.
	err = process.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}

// Terminate sends SIGTERM and waits up to grace for the process to exit,
// escalating to SIGKILL afterwards. It reports whether the process is gone.
func Terminate(pid int, grace time.Duration) bool {
	if !IsProcessAlive(pid) {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return !IsProcessAlive(pid)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !IsProcessAlive(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}

	_ = process.Signal(syscall.SIGKILL)
	time.Sleep(50 * time.Millisecond)
	return !IsProcessAlive(pid)
}

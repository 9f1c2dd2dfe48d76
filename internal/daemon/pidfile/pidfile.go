// Package pidfile records which process owns the daemon.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/pkg/process"
)

// Acquire writes the current PID to path. A file left behind by a dead
// process is replaced; a live owner is reported as an error.
func Acquire(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}

	if pid, err := Read(path); err == nil && pid != os.Getpid() {
		if process.IsProcessAlive(pid) {
			return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("daemon already running with PID %d", pid)).
				WithDetail("pid_file", path)
		}
		_ = os.Remove(path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Release removes the pid file. A missing file is not an error.
func Release(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Read returns the PID recorded in path.
func Read(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInvalidInput, "malformed pid file").WithDetail("pid_file", path)
	}
	return pid, nil
}

// IsRunning reports whether the process recorded in path is alive.
func IsRunning(path string) (bool, int, error) {
	pid, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return process.IsProcessAlive(pid), pid, nil
}

// Stop terminates the recorded process, waiting up to grace before killing
// it, and removes the pid file.
func Stop(path string, grace time.Duration) (int, error) {
	running, pid, err := IsRunning(path)
	if err != nil {
		return 0, err
	}
	if !running {
		_ = Release(path)
		return pid, errors.DaemonNotRunning(path, nil)
	}
	if !process.Terminate(pid, grace) {
		return pid, errors.New(errors.ErrCodeInternal, fmt.Sprintf("failed to stop daemon with PID %d", pid))
	}
	return pid, Release(path)
}

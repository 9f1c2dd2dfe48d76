// Package paths resolves where layoutsync keeps its files.
//
// Resolution order:
// 1. LAYOUTSYNC_HOME (portable root) → $LAYOUTSYNC_HOME/{config,state,run}
// 2. XDG env vars → $XDG_*_HOME/layoutsync
// 3. Platform defaults → ~/.config/layoutsync, ~/.local/state/layoutsync
package paths

import (
	"os"
	"path/filepath"
)

const appName = "layoutsync"

// HomeEnv overrides every base directory when set.
const HomeEnv = "LAYOUTSYNC_HOME"

func base(sub, xdgVar string, fallback ...string) string {
	if home := os.Getenv(HomeEnv); home != "" {
		return filepath.Join(home, sub)
	}
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		parts := append([]string{homeDir}, fallback...)
		return filepath.Join(append(parts, appName)...)
	}
	return ""
}

// ConfigDir holds the global layoutsync.yml.
func ConfigDir() string {
	return base("config", "XDG_CONFIG_HOME", ".config")
}

// StateDir holds logs, the PID file and the default layouts directory.
func StateDir() string {
	return base("state", "XDG_STATE_HOME", ".local", "state")
}

// RuntimeDir returns the directory for sockets.
// Uses XDG_RUNTIME_DIR when available, falls back to StateDir.
func RuntimeDir() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return StateDir()
}

// LogsDir returns the directory of daily log files.
func LogsDir() string {
	state := StateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "logs")
}

// LayoutsDir is the default directory watched for layout documents.
func LayoutsDir() string {
	state := StateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "layouts")
}

// SocketPath returns the path to the daemon unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "layoutsyncd.sock")
}

// PidFilePath returns the path to the daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "layoutsyncd.pid")
}

// EnsureDirs creates all layoutsync directories if they don't exist.
func EnsureDirs() error {
	for _, dir := range []string{ConfigDir(), StateDir(), RuntimeDir(), LogsDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

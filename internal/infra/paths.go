// Package infra implements infrastructure concerns (process, notification,
// screen lock, persistence).
package infra

import (
	"os"
	"path/filepath"
)

const appDirName = "lockmeout"

// DataDir returns the directory holding the database, key file and runtime
// state. Respects XDG_DATA_HOME, falls back to ~/.local/share.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDirName)
	}
	return filepath.Join(home, ".local", "share", appDirName)
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(DataDir(), "daemon.log")
}

// StatePath returns the runtime state file path.
func StatePath() string {
	return filepath.Join(DataDir(), "state.json")
}

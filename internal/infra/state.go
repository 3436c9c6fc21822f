package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/eliteGoblin/lockmeout/internal/domain"
)

// StateFile implements domain.RuntimeStateStore on a JSON file. Writes go
// through a temp file plus rename so the status command never observes a
// half-written snapshot; a flock serializes writers in case two daemon
// instances ever race.
type StateFile struct {
	path string
}

// NewStateFile creates a runtime state store at the given path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Write publishes the daemon's runtime snapshot.
func (f *StateFile) Write(state domain.RuntimeState) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}

	lockPath := f.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first (unique per process to avoid race)
	tmpPath := fmt.Sprintf("%s.%d.tmp", f.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Read returns the last published snapshot, or nil if none exists.
func (f *StateFile) Read() (*domain.RuntimeState, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state domain.RuntimeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt state file: %w", err)
	}
	return &state, nil
}

// Clear removes the state file on clean shutdown.
func (f *StateFile) Clear() error {
	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Ensure StateFile implements domain.RuntimeStateStore.
var _ domain.RuntimeStateStore = (*StateFile)(nil)

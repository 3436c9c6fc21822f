// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"sync"
)

// FakeProcessTable simulates a process table for enforcement tests: apps can
// be launched, killed and relaunched without touching real processes.
type FakeProcessTable struct {
	mu      sync.Mutex
	nextPID int
	byPID   map[int]string
}

// NewFakeProcessTable creates an empty fake process table.
func NewFakeProcessTable() *FakeProcessTable {
	return &FakeProcessTable{
		nextPID: 1000,
		byPID:   make(map[int]string),
	}
}

// Launch simulates starting an app and returns its pid.
func (f *FakeProcessTable) Launch(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	f.byPID[f.nextPID] = name
	return f.nextPID
}

// FindByName returns the pids of running processes with the given name.
func (f *FakeProcessTable) FindByName(name string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pids []int
	for pid, n := range f.byPID {
		if n == name {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// Kill removes a process from the table.
func (f *FakeProcessTable) Kill(ctx context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byPID, pid)
	return nil
}

// IsRunning reports whether a pid is still in the table.
func (f *FakeProcessTable) IsRunning(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byPID[pid]
	return ok
}

// Running returns the number of processes with the given name.
func (f *FakeProcessTable) Running(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.byPID {
		if n == name {
			count++
		}
	}
	return count
}

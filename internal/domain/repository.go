package domain

import (
	"context"
	"time"
)

// ScheduleStore is durable storage for schedule definitions.
// Writes replace the whole record atomically.
type ScheduleStore interface {
	// Put inserts or replaces a schedule.
	Put(schedule Schedule) error

	// Get returns a schedule by id, or ErrScheduleNotFound.
	Get(id string) (*Schedule, error)

	// List returns all schedules ordered by creation time.
	List() ([]Schedule, error)

	// Delete removes a schedule. Existing sessions are untouched.
	Delete(id string) error
}

// SessionStore is durable storage for session instances. Sessions are
// append-only history; terminal sessions are retained for listing.
type SessionStore interface {
	// Put inserts or replaces a session.
	Put(session Session) error

	// Get returns a session by id, or ErrSessionNotFound.
	Get(id string) (*Session, error)

	// List returns all sessions ordered by scheduled start.
	List() ([]Session, error)

	// ListLive returns sessions in a non-terminal state.
	ListLive() ([]Session, error)

	// UpdateState transitions a session's state only if it is still in the
	// expected prior state, so a write from another process is never
	// overwritten. Returns false (and no error) when the guard failed.
	UpdateState(id string, from, to SessionState, updatedAt time.Time) (bool, error)

	// FindByOccurrence returns the session materialized for a schedule's
	// occurrence date, or nil if none exists.
	FindByOccurrence(scheduleID, occurrenceDate string) (*Session, error)

	// CountBySchedule returns how many sessions were ever materialized
	// from the schedule.
	CountBySchedule(scheduleID string) (int, error)
}

// InstantRequestStore queues ad-hoc lockout requests between the CLI and
// the daemon. The scheduler drains it on every tick.
type InstantRequestStore interface {
	Add(req InstantRequest) error
	List() ([]InstantRequest, error)
	Delete(id string) error
}

// ConfigStore is durable storage for the single config record.
type ConfigStore interface {
	// Load returns the stored config with defaults applied to any field
	// that was never set.
	Load() (Config, error)

	// Save replaces the config record.
	Save(config Config) error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes whose name matches
	// (case-insensitive exact match).
	FindByName(name string) ([]int, error)

	// Kill terminates a process by PID, bounded by the context deadline.
	Kill(ctx context.Context, pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}

// Notifier delivers desktop notifications. Delivery failures are logged by
// callers and never block a state transition.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ScreenLocker asserts the full-lockout effect. Lock is best-effort
// idempotent: re-asserting an already locked screen is harmless.
type ScreenLocker interface {
	// IsLocked reports whether the interactive session is currently locked.
	IsLocked(ctx context.Context) bool

	// Lock locks the interactive session.
	Lock(ctx context.Context) error
}

// RuntimeStateStore publishes the daemon's runtime snapshot for the status
// command.
type RuntimeStateStore interface {
	Write(state RuntimeState) error
	Read() (*RuntimeState, error)
	Clear() error
}

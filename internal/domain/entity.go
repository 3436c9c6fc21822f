// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// LockMode selects what a lockout session enforces.
type LockMode string

const (
	// ModeFullLockout locks the interactive screen session for the window.
	ModeFullLockout LockMode = "full_lockout"
	// ModeAppBlockOnly only terminates the listed applications.
	ModeAppBlockOnly LockMode = "app_block_only"
)

// SessionState is the lifecycle state of a Session.
// Transitions: PENDING -> WARNING -> ACTIVE -> COMPLETED, or -> CANCELLED
// from any non-terminal state. A PENDING session whose start has already
// passed goes straight to ACTIVE without a warning.
type SessionState string

const (
	StatePending   SessionState = "pending"
	StateWarning   SessionState = "warning"
	StateActive    SessionState = "active"
	StateCompleted SessionState = "completed"
	StateCancelled SessionState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// SessionSource identifies where a Session came from.
type SessionSource string

const (
	SourceSchedule SessionSource = "schedule"
	SourceInstant  SessionSource = "instant"
)

// Schedule is a user-declared lockout definition. StartTime/EndTime are
// wall-clock times of day in "HH:MM" form; persistent schedules regenerate
// an occurrence every day, one-shot schedules fire once and then stay inert.
type Schedule struct {
	ID          string
	StartTime   string // "HH:MM" local time of day
	EndTime     string // "HH:MM", strictly after StartTime
	Mode        LockMode
	Apps        []string // required non-empty iff Mode == ModeAppBlockOnly
	Persist     bool
	Enabled     bool
	Description string
	CreatedAt   time.Time
}

// Session is one concrete, time-bound lockout instance. Mode and Apps are
// copied from the source at creation time; later schedule edits never alter
// an already-materialized session. Sessions are append-only history.
type Session struct {
	ID             string
	Source         SessionSource
	ScheduleID     string // empty for instant sessions
	OccurrenceDate string // "YYYY-MM-DD" local, empty for instant sessions
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	Mode           LockMode
	Apps           []string
	State          SessionState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Config holds process-wide tunables. It always has usable values: the
// store applies defaults on load so the scheduler never observes an unset
// config.
type Config struct {
	LeadTimeMinutes int
	DefaultApps     []string
	NotifySummary   string // template, {minutes} placeholder
	NotifyBody      string // template, {start_time} placeholder
}

// DefaultConfig returns the config used before any explicit update.
func DefaultConfig() Config {
	return Config{
		LeadTimeMinutes: 5,
		DefaultApps:     []string{},
		NotifySummary:   "Lockout in {minutes} minutes",
		NotifyBody:      "A scheduled lockout will start at {start_time}.",
	}
}

// LeadTime returns the warning window as a duration.
func (c Config) LeadTime() time.Duration {
	return time.Duration(c.LeadTimeMinutes) * time.Minute
}

// ConfigPatch is a partial config update; nil fields keep their prior value.
type ConfigPatch struct {
	LeadTimeMinutes *int
	DefaultApps     []string
	NotifySummary   *string
	NotifyBody      *string
}

// InstantRequest is an ad-hoc lockout request, consumed by the next
// scheduler tick. Requests are persisted so a request issued from the CLI
// process reaches the daemon through the store.
type InstantRequest struct {
	ID          string
	Delay       time.Duration
	Duration    time.Duration
	Mode        LockMode
	Apps        []string
	RequestedAt time.Time
}

// Notification is what gets delivered to the desktop when a session enters
// its warning phase (and on a few informational events).
type Notification struct {
	Summary string
	Body    string
}

// SweepResult captures one enforcement sweep over a session's app list.
type SweepResult struct {
	SessionID  string
	KilledPIDs []int
	KilledApps []string
	Errors     []error
	ExecutedAt time.Time
}

// RuntimeState is the daemon's runtime snapshot, published for the status
// command. Not the source of truth for anything; a stale file is detected
// via the PID.
type RuntimeState struct {
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	LastTick      time.Time `json:"last_tick"`
	ActiveSession string    `json:"active_session,omitempty"`
	ActiveUntil   time.Time `json:"active_until,omitempty"`
}

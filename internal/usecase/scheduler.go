// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/lockmeout/internal/domain"
)

// notifyTimeout bounds a single desktop notification delivery attempt.
const notifyTimeout = 5 * time.Second

// EnforcementController starts and stops per-session enforcement loops.
// Start is idempotent for a given session id.
type EnforcementController interface {
	Start(session domain.Session)
	Stop(sessionID string)
}

// Scheduler is the tick-driven state machine at the heart of the daemon.
// It is the only component that transitions session state. Each Tick:
//
//  1. drains pending instant requests into sessions
//  2. materializes due occurrences of schedules
//  3. advances every live session through its lifecycle
//
// Tick is idempotent: re-running it with the same clock produces no new
// sessions, no new notifications and no state change.
type Scheduler struct {
	schedules domain.ScheduleStore
	sessions  domain.SessionStore
	requests  domain.InstantRequestStore
	config    domain.ConfigStore
	notifier  domain.Notifier
	control   EnforcementController
	logger    *zap.Logger

	mu sync.Mutex
}

// NewScheduler wires the scheduler. control may be nil for contexts that
// never run enforcement (one-off CLI commands).
func NewScheduler(
	schedules domain.ScheduleStore,
	sessions domain.SessionStore,
	requests domain.InstantRequestStore,
	config domain.ConfigStore,
	notifier domain.Notifier,
	control EnforcementController,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		sessions:  sessions,
		requests:  requests,
		config:    config,
		notifier:  notifier,
		control:   control,
		logger:    logger,
	}
}

// AddSchedule validates and persists a new schedule definition. Times are
// canonical "HH:MM"; the CLI normalizes user input before calling this.
func (s *Scheduler) AddSchedule(
	startTOD, endTOD string,
	mode domain.LockMode,
	apps []string,
	persist bool,
	description string,
) (string, error) {
	if err := validateWindow(startTOD, endTOD); err != nil {
		return "", err
	}
	if mode == domain.ModeAppBlockOnly && len(apps) == 0 {
		return "", domain.ErrMissingApps
	}

	schedule := domain.Schedule{
		ID:          uuid.NewString(),
		StartTime:   startTOD,
		EndTime:     endTOD,
		Mode:        mode,
		Apps:        apps,
		Persist:     persist,
		Enabled:     true,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := s.schedules.Put(schedule); err != nil {
		return "", domain.NewPersistenceError("put schedule", err)
	}

	s.logger.Info("schedule added",
		zap.String("id", schedule.ID),
		zap.String("window", startTOD+"-"+endTOD),
		zap.String("mode", string(mode)),
		zap.Bool("persist", persist))
	return schedule.ID, nil
}

// RemoveSchedule deletes a schedule definition. Sessions already
// materialized from it are untouched.
func (s *Scheduler) RemoveSchedule(id string) error {
	if _, err := s.schedules.Get(id); err != nil {
		return err
	}
	if err := s.schedules.Delete(id); err != nil {
		return domain.NewPersistenceError("delete schedule", err)
	}
	s.logger.Info("schedule removed", zap.String("id", id))
	return nil
}

// SetScheduleEnabled toggles a schedule. Disabled schedules never
// materialize new sessions.
func (s *Scheduler) SetScheduleEnabled(id string, enabled bool) error {
	schedule, err := s.schedules.Get(id)
	if err != nil {
		return err
	}
	schedule.Enabled = enabled
	if err := s.schedules.Put(*schedule); err != nil {
		return domain.NewPersistenceError("put schedule", err)
	}
	return nil
}

// RequestInstant queues an ad-hoc lockout. The session is created by the
// next tick with scheduled_start = tick time + delay. An app-block request
// without an explicit app list falls back to the configured default list.
func (s *Scheduler) RequestInstant(
	delay, duration time.Duration,
	mode domain.LockMode,
	apps []string,
) error {
	if duration <= 0 {
		return domain.ErrInvalidDuration
	}
	if mode == domain.ModeAppBlockOnly && len(apps) == 0 {
		cfg, err := s.config.Load()
		if err != nil {
			return domain.NewPersistenceError("load config", err)
		}
		apps = cfg.DefaultApps
		if len(apps) == 0 {
			return domain.ErrMissingApps
		}
	}

	req := domain.InstantRequest{
		ID:          uuid.NewString(),
		Delay:       delay,
		Duration:    duration,
		Mode:        mode,
		Apps:        apps,
		RequestedAt: time.Now(),
	}
	if err := s.requests.Add(req); err != nil {
		return domain.NewPersistenceError("add instant request", err)
	}

	s.logger.Info("instant lockout requested",
		zap.Duration("delay", delay),
		zap.Duration("duration", duration),
		zap.String("mode", string(mode)))
	return nil
}

// CancelSession moves a session to CANCELLED. No-op if already terminal.
// Enforcement stops within one enforcer interval.
func (s *Scheduler) CancelSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.sessions.Get(id)
	if err != nil {
		return err
	}
	if session.State.Terminal() {
		return nil
	}
	if err := s.transition(session, domain.StateCancelled, time.Now()); err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			// The daemon moved the session meanwhile. If it became terminal
			// there is nothing left to cancel.
			if current, getErr := s.sessions.Get(id); getErr == nil && current.State.Terminal() {
				return nil
			}
		}
		return err
	}
	s.stopEnforcement(session.ID)
	return nil
}

// ListSchedules returns all schedule definitions.
func (s *Scheduler) ListSchedules() ([]domain.Schedule, error) {
	return s.schedules.List()
}

// ListSessions returns the full session history, terminal sessions
// included.
func (s *Scheduler) ListSessions() ([]domain.Session, error) {
	return s.sessions.List()
}

// Config returns the current config.
func (s *Scheduler) Config() (domain.Config, error) {
	return s.config.Load()
}

// UpdateConfig applies a partial update; nil patch fields keep their prior
// value. Returns the resulting config.
func (s *Scheduler) UpdateConfig(patch domain.ConfigPatch) (domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.config.Load()
	if err != nil {
		return domain.Config{}, domain.NewPersistenceError("load config", err)
	}
	if patch.LeadTimeMinutes != nil {
		cfg.LeadTimeMinutes = *patch.LeadTimeMinutes
	}
	if patch.DefaultApps != nil {
		cfg.DefaultApps = patch.DefaultApps
	}
	if patch.NotifySummary != nil {
		cfg.NotifySummary = *patch.NotifySummary
	}
	if patch.NotifyBody != nil {
		cfg.NotifyBody = *patch.NotifyBody
	}
	if err := s.config.Save(cfg); err != nil {
		return domain.Config{}, domain.NewPersistenceError("save config", err)
	}
	return cfg, nil
}

// Tick advances the state machine by one step at the given wall-clock time.
// Callable at any cadence; errors local to one schedule or session never
// abort the rest of the tick.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.config.Load()
	if err != nil {
		s.logger.Warn("config unreadable, using defaults", zap.Error(err))
		cfg = domain.DefaultConfig()
	}

	s.materializeInstant(now)
	s.materializeSchedules(now)
	s.advanceSessions(now, cfg)
}

// materializeInstant drains queued instant requests into sessions. A
// request that fails to persist as a session stays queued and is retried
// on the next tick.
func (s *Scheduler) materializeInstant(now time.Time) {
	requests, err := s.requests.List()
	if err != nil {
		s.logger.Warn("failed to list instant requests", zap.Error(err))
		return
	}

	for _, req := range requests {
		start := req.RequestedAt.Add(req.Delay)
		end := start.Add(req.Duration)

		if !now.Before(end) {
			// Whole window elapsed while the daemon was down; a lockout
			// long after it was asked for would only surprise.
			s.logger.Info("discarding elapsed instant request",
				zap.String("request", req.ID))
			s.discardRequest(req.ID)
			continue
		}

		session := domain.Session{
			ID:             uuid.NewString(),
			Source:         domain.SourceInstant,
			ScheduledStart: start,
			ScheduledEnd:   end,
			Mode:           req.Mode,
			Apps:           req.Apps,
			State:          domain.StatePending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.sessions.Put(session); err != nil {
			s.logger.Warn("failed to persist instant session, will retry",
				zap.Error(err))
			continue
		}
		s.discardRequest(req.ID)
		s.logger.Info("instant session created",
			zap.String("session", session.ID),
			zap.Time("start", session.ScheduledStart),
			zap.Time("end", session.ScheduledEnd))
	}
}

// discardRequest removes a consumed request. A failed delete would
// re-materialize the request next tick, so it is logged loudly; the
// duplicate session is still bounded by the request's window.
func (s *Scheduler) discardRequest(id string) {
	if err := s.requests.Delete(id); err != nil {
		s.logger.Error("failed to delete consumed instant request",
			zap.String("request", id),
			zap.Error(err))
	}
}

// materializeSchedules creates PENDING sessions for due occurrences.
// A persistent schedule gets at most one session per occurrence date; a
// one-shot schedule gets at most one session ever. Fully elapsed windows
// are never materialized retroactively.
func (s *Scheduler) materializeSchedules(now time.Time) {
	schedules, err := s.schedules.List()
	if err != nil {
		s.logger.Warn("failed to list schedules", zap.Error(err))
		return
	}

	for _, schedule := range schedules {
		if !schedule.Enabled {
			continue
		}
		if err := s.materializeOne(schedule, now); err != nil {
			s.logger.Warn("failed to materialize schedule",
				zap.String("schedule", schedule.ID),
				zap.Error(err))
		}
	}
}

func (s *Scheduler) materializeOne(schedule domain.Schedule, now time.Time) error {
	if !schedule.Persist {
		count, err := s.sessions.CountBySchedule(schedule.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
	}

	occ, err := NextOccurrence(schedule, now)
	if err != nil {
		return err
	}
	existing, err := s.sessions.FindByOccurrence(schedule.ID, occ.Date)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	session := domain.Session{
		ID:             uuid.NewString(),
		Source:         domain.SourceSchedule,
		ScheduleID:     schedule.ID,
		OccurrenceDate: occ.Date,
		ScheduledStart: occ.Start,
		ScheduledEnd:   occ.End,
		Mode:           schedule.Mode,
		Apps:           schedule.Apps,
		State:          domain.StatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.sessions.Put(session); err != nil {
		return err
	}
	s.logger.Info("session materialized",
		zap.String("session", session.ID),
		zap.String("schedule", schedule.ID),
		zap.String("occurrence", occ.Date),
		zap.Time("start", occ.Start))
	return nil
}

// advanceSessions drives every live session through its time-based
// transitions and keeps enforcement in sync with state. Also covers
// restart recovery: an ACTIVE session found on the first tick after a
// restart is handed back to the enforcer without re-notifying.
func (s *Scheduler) advanceSessions(now time.Time, cfg domain.Config) {
	live, err := s.sessions.ListLive()
	if err != nil {
		s.logger.Warn("failed to list live sessions", zap.Error(err))
		return
	}

	for i := range live {
		session := &live[i]
		switch {
		case !now.Before(session.ScheduledEnd):
			// Window elapsed, whatever phase we were in.
			wasActive := session.State == domain.StateActive
			if err := s.transition(session, domain.StateCompleted, now); err != nil {
				s.logger.Warn("transition failed", zap.Error(err))
				continue
			}
			s.stopEnforcement(session.ID)
			if wasActive {
				s.notify(domain.Notification{
					Summary: "Lockout finished",
					Body:    "You can now resume your work.",
				})
			}

		case !now.Before(session.ScheduledStart):
			// In the window. A PENDING session that lands here skips the
			// warning phase entirely (zero-delay instant requests).
			if session.State != domain.StateActive {
				if err := s.transition(session, domain.StateActive, now); err != nil {
					s.logger.Warn("transition failed", zap.Error(err))
					continue
				}
			}
			s.startEnforcement(*session)

		case session.State == domain.StatePending &&
			!now.Before(session.ScheduledStart.Add(-cfg.LeadTime())):
			// Warning window. The persisted transition is the notification
			// gate: it fires at most once per session, and a restart after
			// the write never re-notifies.
			if err := s.transition(session, domain.StateWarning, now); err != nil {
				s.logger.Warn("transition failed", zap.Error(err))
				continue
			}
			s.notify(warningNotification(cfg, *session, now))
		}
	}
}

// transition persists a state change, guarded on the prior state: the write
// only lands if no other process (a CLI cancel) moved the session since our
// read. On a failed guard or write the in-memory session is untouched and
// the next tick re-reads.
func (s *Scheduler) transition(session *domain.Session, to domain.SessionState, now time.Time) error {
	from := session.State
	swapped, err := s.sessions.UpdateState(session.ID, from, to, now)
	if err != nil {
		return domain.NewPersistenceError("update session state", err)
	}
	if !swapped {
		return fmt.Errorf("%w: session %s is no longer %s",
			domain.ErrStaleTransition, session.ID, from)
	}
	session.State = to
	session.UpdatedAt = now
	s.logger.Info("session transition",
		zap.String("session", session.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

func (s *Scheduler) startEnforcement(session domain.Session) {
	if s.control != nil {
		s.control.Start(session)
	}
}

func (s *Scheduler) stopEnforcement(sessionID string) {
	if s.control != nil {
		s.control.Stop(sessionID)
	}
}

// notify delivers best-effort; failures are logged and never block a
// transition.
func (s *Scheduler) notify(n domain.Notification) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("summary", n.Summary),
			zap.Error(err))
	}
}

// warningNotification renders the configured templates with the time
// remaining and the affected app list.
func warningNotification(cfg domain.Config, session domain.Session, now time.Time) domain.Notification {
	minutes := int(session.ScheduledStart.Sub(now).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	summary := strings.ReplaceAll(cfg.NotifySummary, "{minutes}", strconv.Itoa(minutes))
	body := strings.ReplaceAll(cfg.NotifyBody, "{start_time}",
		session.ScheduledStart.Format("15:04"))
	if session.Mode == domain.ModeAppBlockOnly && len(session.Apps) > 0 {
		body = fmt.Sprintf("%s Blocked apps: %s.", body, strings.Join(session.Apps, ", "))
	}
	return domain.Notification{Summary: summary, Body: body}
}

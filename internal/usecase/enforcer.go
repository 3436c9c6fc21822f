package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/lockmeout/internal/domain"
)

// EnforcerConfig holds enforcement loop tunables.
type EnforcerConfig struct {
	Interval    time.Duration // sweep cadence per active session
	KillTimeout time.Duration // per-process termination bound
}

// DefaultEnforcerConfig returns the default enforcement tunables. The
// interval is well below the scheduler tick so a relaunched app dies
// within a couple of seconds.
func DefaultEnforcerConfig() EnforcerConfig {
	return EnforcerConfig{
		Interval:    2 * time.Second,
		KillTimeout: 3 * time.Second,
	}
}

// Enforcer runs one reconciliation loop per ACTIVE session. App blocking is
// a polling kill loop (the only robust answer to a user relaunching a
// blocked app); full lockout re-asserts the screen lock whenever it is
// found unlocked. Loops observe cancellation through the session store: the
// scheduler is the only writer of state, the enforcer only reads it.
type Enforcer struct {
	config   EnforcerConfig
	sessions domain.SessionStore
	pm       domain.ProcessManager
	locker   domain.ScreenLocker
	notifier domain.Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	runners map[string]*runner
}

type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEnforcer creates an enforcer. It satisfies EnforcementController.
func NewEnforcer(
	config EnforcerConfig,
	sessions domain.SessionStore,
	pm domain.ProcessManager,
	locker domain.ScreenLocker,
	notifier domain.Notifier,
	logger *zap.Logger,
) *Enforcer {
	return &Enforcer{
		config:   config,
		sessions: sessions,
		pm:       pm,
		locker:   locker,
		notifier: notifier,
		logger:   logger,
		runners:  make(map[string]*runner),
	}
}

// Start launches the enforcement loop for a session. Idempotent: a second
// Start for the same session id is a no-op while the first loop runs.
func (e *Enforcer) Start(session domain.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, running := e.runners[session.ID]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{cancel: cancel, done: make(chan struct{})}
	e.runners[session.ID] = r

	e.logger.Info("enforcement started",
		zap.String("session", session.ID),
		zap.String("mode", string(session.Mode)),
		zap.Time("until", session.ScheduledEnd))

	go func() {
		defer close(r.done)
		defer e.remove(session.ID)
		e.run(ctx, session)
	}()
}

// Stop halts the loop for a session id. No-op if none is running.
func (e *Enforcer) Stop(sessionID string) {
	e.mu.Lock()
	r, ok := e.runners[sessionID]
	e.mu.Unlock()
	if ok {
		r.cancel()
	}
}

// StopAll halts every loop and waits for them to drain. Used on daemon
// shutdown.
func (e *Enforcer) StopAll() {
	e.mu.Lock()
	running := make([]*runner, 0, len(e.runners))
	for _, r := range e.runners {
		r.cancel()
		running = append(running, r)
	}
	e.mu.Unlock()

	for _, r := range running {
		<-r.done
	}
}

func (e *Enforcer) remove(sessionID string) {
	e.mu.Lock()
	delete(e.runners, sessionID)
	e.mu.Unlock()
}

// run applies the session's effect immediately and then on every interval
// until the window elapses, the persisted state leaves ACTIVE, or the
// context is cancelled.
func (e *Enforcer) run(ctx context.Context, session domain.Session) {
	// Apps already announced as blocked; one notification per app per
	// session, not per sweep.
	announced := make(map[string]bool)

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		now := time.Now()
		if !now.Before(session.ScheduledEnd) {
			e.logger.Info("enforcement window elapsed",
				zap.String("session", session.ID))
			return
		}
		if !e.stillActive(session.ID) {
			e.logger.Info("session no longer active, enforcement stopping",
				zap.String("session", session.ID))
			return
		}

		e.applyOnce(ctx, session, announced)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// stillActive re-reads the persisted state. A read failure keeps the loop
// going: enforcing slightly past a cancellation beats dropping an active
// lockout on a transient store error.
func (e *Enforcer) stillActive(sessionID string) bool {
	session, err := e.sessions.Get(sessionID)
	if err != nil {
		e.logger.Warn("failed to re-read session state",
			zap.String("session", sessionID),
			zap.Error(err))
		return true
	}
	return session.State == domain.StateActive
}

func (e *Enforcer) applyOnce(ctx context.Context, session domain.Session, announced map[string]bool) {
	switch session.Mode {
	case domain.ModeAppBlockOnly:
		result := e.Sweep(ctx, session)
		for _, app := range result.KilledApps {
			if announced[app] {
				continue
			}
			announced[app] = true
			e.announceBlocked(ctx, app)
		}
	case domain.ModeFullLockout:
		e.assertLocked(ctx, session)
	}
}

// Sweep enumerates running processes once and terminates any matching the
// session's app list. Per-process failures (already exited, permission
// denied) are recorded and skipped, never fatal to the sweep.
func (e *Enforcer) Sweep(ctx context.Context, session domain.Session) domain.SweepResult {
	result := domain.SweepResult{
		SessionID:  session.ID,
		ExecutedAt: time.Now(),
	}

	for _, app := range session.Apps {
		pids, err := e.pm.FindByName(app)
		if err != nil {
			e.logger.Warn("process enumeration failed",
				zap.String("app", app),
				zap.Error(err))
			result.Errors = append(result.Errors, err)
			continue
		}

		killed := false
		for _, pid := range pids {
			killCtx, cancel := context.WithTimeout(ctx, e.config.KillTimeout)
			err := e.pm.Kill(killCtx, pid)
			cancel()
			if err != nil {
				// Process may have exited between enumeration and kill,
				// or we lack permission. Log and move on.
				e.logger.Warn("failed to kill process",
					zap.String("session", session.ID),
					zap.String("app", app),
					zap.Int("pid", pid),
					zap.Error(err))
				result.Errors = append(result.Errors, err)
				continue
			}
			e.logger.Info("killed blocked process",
				zap.String("session", session.ID),
				zap.String("app", app),
				zap.Int("pid", pid))
			result.KilledPIDs = append(result.KilledPIDs, pid)
			killed = true
		}
		if killed {
			result.KilledApps = append(result.KilledApps, app)
		}
	}

	return result
}

// assertLocked re-locks the screen if it is not locked. Locking an already
// locked screen would also be harmless, but probing first avoids fighting
// the user's unlock dialog every interval.
func (e *Enforcer) assertLocked(ctx context.Context, session domain.Session) {
	if e.locker == nil {
		return
	}
	if e.locker.IsLocked(ctx) {
		return
	}
	if err := e.locker.Lock(ctx); err != nil {
		e.logger.Warn("failed to lock screen",
			zap.String("session", session.ID),
			zap.Error(err))
	}
}

func (e *Enforcer) announceBlocked(ctx context.Context, app string) {
	if e.notifier == nil {
		return
	}
	n := domain.Notification{
		Summary: "Blocked " + app,
		Body:    "App closed per schedule.",
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("notification delivery failed", zap.Error(err))
	}
}

// Ensure Enforcer satisfies the scheduler's controller contract.
var _ EnforcementController = (*Enforcer)(nil)

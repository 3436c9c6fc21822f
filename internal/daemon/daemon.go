// Package daemon implements the lockout daemon's run loop.
package daemon

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/lockmeout/internal/domain"
	"github.com/eliteGoblin/lockmeout/internal/usecase"
)

// Config holds daemon loop configuration.
type Config struct {
	TickInterval  time.Duration // scheduler tick cadence
	StateInterval time.Duration // runtime state publish cadence
}

// DefaultConfig returns default daemon configuration. The tick interval is
// deliberately short: the scheduler is idempotent, so a fast cadence only
// tightens transition latency.
func DefaultConfig() Config {
	return Config{
		TickInterval:  5 * time.Second,
		StateInterval: 15 * time.Second,
	}
}

// Daemon drives the scheduler on a fixed tick and publishes a runtime
// snapshot for the status command. Enforcement loops are owned by the
// enforcer and started/stopped through scheduler transitions.
type Daemon struct {
	config    Config
	scheduler *usecase.Scheduler
	enforcer  *usecase.Enforcer
	sessions  domain.SessionStore
	state     domain.RuntimeStateStore
	logger    *zap.Logger
	startedAt time.Time
}

// New creates a daemon.
func New(
	config Config,
	scheduler *usecase.Scheduler,
	enforcer *usecase.Enforcer,
	sessions domain.SessionStore,
	state domain.RuntimeStateStore,
	logger *zap.Logger,
) *Daemon {
	return &Daemon{
		config:    config,
		scheduler: scheduler,
		enforcer:  enforcer,
		sessions:  sessions,
		state:     state,
		logger:    logger,
	}
}

// Run starts the daemon loop. This blocks until context is canceled.
// The first tick runs immediately, which is also the restart recovery
// path: sessions persisted as ACTIVE go straight back under enforcement,
// and WARNING sessions are not re-notified.
func (d *Daemon) Run(ctx context.Context) error {
	d.startedAt = time.Now()
	d.logger.Info("daemon started",
		zap.Int("pid", os.Getpid()),
		zap.Duration("tick_interval", d.config.TickInterval))

	d.scheduler.Tick(time.Now())
	d.publishState(time.Now())

	tick := time.NewTicker(d.config.TickInterval)
	stateTick := time.NewTicker(d.config.StateInterval)
	defer func() {
		tick.Stop()
		stateTick.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping")
			d.enforcer.StopAll()
			if err := d.state.Clear(); err != nil {
				d.logger.Warn("failed to clear state file", zap.Error(err))
			}
			return ctx.Err()

		case <-tick.C:
			d.scheduler.Tick(time.Now())

		case <-stateTick.C:
			d.publishState(time.Now())
		}
	}
}

// publishState writes the runtime snapshot. Failures only degrade the
// status command, so they are logged and ignored.
func (d *Daemon) publishState(now time.Time) {
	state := domain.RuntimeState{
		PID:       os.Getpid(),
		StartedAt: d.startedAt,
		LastTick:  now,
	}

	live, err := d.sessions.ListLive()
	if err != nil {
		d.logger.Warn("failed to list sessions for state file", zap.Error(err))
	} else {
		for _, session := range live {
			if session.State == domain.StateActive {
				state.ActiveSession = session.ID
				state.ActiveUntil = session.ScheduledEnd
				break
			}
		}
	}

	if err := d.state.Write(state); err != nil {
		d.logger.Warn("failed to write state file", zap.Error(err))
	}
}

package infra

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/eliteGoblin/lockmeout/internal/domain"
)

// lockBackend is one way of locking/probing the screen. Which backends
// exist varies per desktop environment, so we probe a list and cache the
// first one that works.
type lockBackend struct {
	name      string
	lockCmd   []string
	statusCmd []string
	// locked reports whether the status command output means "locked".
	locked func(output string) bool
}

var lockBackends = []lockBackend{
	{
		name:      "loginctl",
		lockCmd:   []string{"loginctl", "lock-session"},
		statusCmd: []string{"loginctl", "show-session", "self", "-p", "LockedHint", "--value"},
		locked:    func(out string) bool { return strings.TrimSpace(out) == "yes" },
	},
	{
		name:      "xdg-screensaver",
		lockCmd:   []string{"xdg-screensaver", "lock"},
		statusCmd: []string{"xdg-screensaver", "status"},
		locked:    func(out string) bool { return strings.Contains(out, "is locked") },
	},
	{
		name:    "gnome-screensaver",
		lockCmd: []string{"gnome-screensaver-command", "-l"},
		statusCmd: []string{"gdbus", "call", "--session",
			"--dest", "org.gnome.ScreenSaver",
			"--object-path", "/org/gnome/ScreenSaver",
			"--method", "org.gnome.ScreenSaver.GetActive"},
		locked: func(out string) bool { return strings.Contains(out, "(true,)") },
	},
}

// SessionLocker implements domain.ScreenLocker by shelling out to the
// desktop environment's lock tooling. The first backend that succeeds is
// cached; a later failure invalidates the cache and re-probes.
type SessionLocker struct {
	mu     sync.Mutex
	cached *lockBackend
}

// NewSessionLocker creates a screen locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{}
}

// IsLocked reports whether the interactive session is locked. Unknown
// counts as unlocked, so the enforcer errs on the side of re-locking.
func (l *SessionLocker) IsLocked(ctx context.Context) bool {
	if b := l.backend(); b != nil {
		out, err := exec.CommandContext(ctx, b.statusCmd[0], b.statusCmd[1:]...).Output()
		if err == nil {
			return b.locked(string(out))
		}
		l.invalidate()
	}

	for i := range lockBackends {
		b := &lockBackends[i]
		out, err := exec.CommandContext(ctx, b.statusCmd[0], b.statusCmd[1:]...).Output()
		if err != nil {
			continue
		}
		l.cache(b)
		return b.locked(string(out))
	}
	return false
}

// Lock locks the interactive session. Idempotent: locking a locked screen
// is harmless.
func (l *SessionLocker) Lock(ctx context.Context) error {
	if b := l.backend(); b != nil {
		if err := exec.CommandContext(ctx, b.lockCmd[0], b.lockCmd[1:]...).Run(); err == nil {
			return nil
		}
		l.invalidate()
	}

	for i := range lockBackends {
		b := &lockBackends[i]
		if err := exec.CommandContext(ctx, b.lockCmd[0], b.lockCmd[1:]...).Run(); err == nil {
			l.cache(b)
			return nil
		}
	}
	return fmt.Errorf("no working screen lock backend (tried loginctl, xdg-screensaver, gnome-screensaver-command)")
}

func (l *SessionLocker) backend() *lockBackend {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cached
}

func (l *SessionLocker) cache(b *lockBackend) {
	l.mu.Lock()
	l.cached = b
	l.mu.Unlock()
}

func (l *SessionLocker) invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

// Ensure SessionLocker implements domain.ScreenLocker.
var _ domain.ScreenLocker = (*SessionLocker)(nil)

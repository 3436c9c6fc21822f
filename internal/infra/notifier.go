package infra

import (
	"context"
	"errors"
	"os/exec"

	"github.com/eliteGoblin/lockmeout/internal/domain"
)

const notifyAppName = "Lock Me Out"

// DesktopNotifier implements domain.Notifier via notify-send (libnotify).
type DesktopNotifier struct{}

// NewDesktopNotifier creates a notifier backed by notify-send.
func NewDesktopNotifier() domain.Notifier {
	return &DesktopNotifier{}
}

// Notify delivers a desktop notification. A missing notify-send binary is
// reported as an error; the caller logs and moves on.
func (n *DesktopNotifier) Notify(ctx context.Context, notification domain.Notification) error {
	cmd := exec.CommandContext(ctx, "notify-send",
		notification.Summary,
		notification.Body,
		"-a", notifyAppName)
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return errors.New("notify-send not found, install libnotify-bin")
		}
		return err
	}
	return nil
}

// Ensure DesktopNotifier implements domain.Notifier.
var _ domain.Notifier = (*DesktopNotifier)(nil)

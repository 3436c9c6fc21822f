package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

// systemd user unit template. The daemon runs in the user session (it
// needs the session bus for notifications and screen locking).
const userUnitTemplate = `[Unit]
Description=Lock Me Out - scheduled lockout daemon

[Service]
ExecStart={{.ExecutablePath}} daemon
Restart=on-failure
RestartSec=10

[Install]
WantedBy=default.target
`

const unitName = "lockmeout.service"

type unitConfig struct {
	ExecutablePath string
}

// SystemdManager installs the daemon as a systemd user unit so it starts
// on login and restarts after a crash. The supervisor itself is systemd;
// this type only writes and (un)loads the unit file.
type SystemdManager struct {
	unitDir  string
	unitPath string
}

// NewSystemdManager creates a manager for the current user's unit
// directory (~/.config/systemd/user).
func NewSystemdManager() *SystemdManager {
	home, _ := os.UserHomeDir()
	return NewSystemdManagerWithDir(filepath.Join(home, ".config", "systemd", "user"))
}

// NewSystemdManagerWithDir creates a manager for a custom unit directory.
func NewSystemdManagerWithDir(unitDir string) *SystemdManager {
	return &SystemdManager{
		unitDir:  unitDir,
		unitPath: filepath.Join(unitDir, unitName),
	}
}

// UnitPath returns the unit file path (for status output and tests).
func (m *SystemdManager) UnitPath() string { return m.unitPath }

// IsInstalled checks if the unit file exists.
func (m *SystemdManager) IsInstalled() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

// Install writes the unit file and enables + starts it.
func (m *SystemdManager) Install(execPath string) error {
	if err := os.MkdirAll(m.unitDir, 0755); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}

	content, err := renderUnit(execPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.unitPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	if err := exec.Command("systemctl", "--user", "daemon-reload").Run(); err != nil {
		return fmt.Errorf("systemctl daemon-reload failed: %w", err)
	}
	if err := exec.Command("systemctl", "--user", "enable", "--now", unitName).Run(); err != nil {
		return fmt.Errorf("systemctl enable failed: %w", err)
	}
	return nil
}

// Uninstall stops, disables and removes the unit.
func (m *SystemdManager) Uninstall() error {
	// Best effort: the unit may not be loaded.
	_ = exec.Command("systemctl", "--user", "disable", "--now", unitName).Run()

	if err := os.Remove(m.unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove unit file: %w", err)
	}
	return exec.Command("systemctl", "--user", "daemon-reload").Run()
}

// NeedsUpdate checks if the unit file exists but differs from what we
// would write for execPath.
func (m *SystemdManager) NeedsUpdate(execPath string) bool {
	existing, err := os.ReadFile(m.unitPath)
	if err != nil {
		return false
	}
	expected, err := renderUnit(execPath)
	if err != nil {
		return false
	}
	return !bytes.Equal(existing, expected)
}

// IsActive reports whether systemd considers the unit active.
func (m *SystemdManager) IsActive() bool {
	out, err := exec.Command("systemctl", "--user", "is-active", unitName).Output()
	if err != nil {
		return false
	}
	return bytes.Equal(bytes.TrimSpace(out), []byte("active"))
}

func renderUnit(execPath string) ([]byte, error) {
	tmpl, err := template.New("unit").Parse(userUnitTemplate)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, unitConfig{ExecutablePath: execPath}); err != nil {
		return nil, fmt.Errorf("failed to render unit file: %w", err)
	}
	return buf.Bytes(), nil
}

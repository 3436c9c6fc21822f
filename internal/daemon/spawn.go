package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// SpawnDetached starts the daemon as a detached background process via
// self-exec. Used by `lmout start` when not running under systemd.
func SpawnDetached() (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(executable, "daemon")

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached; the daemon logs to a file.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

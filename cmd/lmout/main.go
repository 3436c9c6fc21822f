// Package main is the CLI entry point for lmout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/lockmeout/internal/daemon"
	"github.com/eliteGoblin/lockmeout/internal/domain"
	"github.com/eliteGoblin/lockmeout/internal/infra"
	"github.com/eliteGoblin/lockmeout/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lmout",
	Short: "Lock Me Out - scheduled screen and app lockouts",
	Long: `lmout manages scheduled lockouts on this machine. A background daemon
enforces them: a full lockout keeps the screen locked for the window, an
app-block lockout keeps killing the listed applications.

Use 'add' to schedule a lockout, 'now' for an instant one, 'run' or
'start' to run the daemon.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	addDesc      string
	addPersist   bool
	addBlockOnly bool
	addApps      []string

	nowDelay     time.Duration
	nowDuration  time.Duration
	nowBlockOnly bool
	nowApps      []string

	cfgLeadMinutes int
	cfgApps        []string
	cfgSummary     string
	cfgBody        string

	startInstall bool
)

var addCmd = &cobra.Command{
	Use:   "add <start> <end>",
	Short: "Add a scheduled lockout",
	Long: `Adds a lockout window. Times accept forms like "8pm", "8:30pm", "20:00".
By default the whole screen locks for the window; with --block-only, only
the listed applications are killed.`,
	Args: cobra.ExactArgs(2),
	RunE: runAdd,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules, soonest first",
	RunE:  runList,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List lockout sessions, including finished ones",
	RunE:  runSessions,
}

var removeCmd = &cobra.Command{
	Use:   "remove <schedule-id>",
	Short: "Remove a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var enableCmd = &cobra.Command{
	Use:   "enable <schedule-id>",
	Short: "Enable a disabled schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runSetEnabled(args[0], true) },
}

var disableCmd = &cobra.Command{
	Use:   "disable <schedule-id>",
	Short: "Disable a schedule without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runSetEnabled(args[0], false) },
}

var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Request an instant lockout",
	Long: `Queues an ad-hoc lockout. The daemon picks it up on its next tick.
An app-block request without --apps uses the configured default app list.`,
	RunE: runNow,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a pending or active session",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
	RunE:  runConfig,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon and lockout status",
	RunE:  runStatus,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE:  runDaemon,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	Long: `Starts the daemon as a detached process. With --install, a systemd user
unit is written and enabled instead, so the daemon also starts on login
and restarts after a crash.`,
	RunE: runStart,
}

// Hidden alias used by the detached spawn and the systemd unit.
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

func init() {
	addCmd.Flags().StringVarP(&addDesc, "desc", "d", "", "Optional description")
	addCmd.Flags().BoolVarP(&addPersist, "persist", "p", false, "Repeat every day")
	addCmd.Flags().BoolVar(&addBlockOnly, "block-only", false, "Only kill listed apps, don't lock the screen")
	addCmd.Flags().StringSliceVar(&addApps, "apps", nil, "Apps to block (comma separated process names)")

	nowCmd.Flags().DurationVar(&nowDelay, "delay", 30*time.Minute, "Delay before the lockout starts")
	nowCmd.Flags().DurationVar(&nowDuration, "duration", 10*time.Minute, "Lockout duration")
	nowCmd.Flags().BoolVar(&nowBlockOnly, "block-only", false, "Only kill listed apps, don't lock the screen")
	nowCmd.Flags().StringSliceVar(&nowApps, "apps", nil, "Apps to block (comma separated process names)")

	configCmd.Flags().IntVarP(&cfgLeadMinutes, "lead", "l", -1, "Minutes before lockout to notify")
	configCmd.Flags().StringSliceVar(&cfgApps, "default-apps", nil, "Default app list for instant app-blocks")
	configCmd.Flags().StringVarP(&cfgSummary, "summary", "s", "", "Notification summary template ({minutes})")
	configCmd.Flags().StringVarP(&cfgBody, "body", "b", "", "Notification body template ({start_time})")

	startCmd.Flags().BoolVar(&startInstall, "install", false, "Install and enable a systemd user unit")

	rootCmd.AddCommand(addCmd, listCmd, sessionsCmd, removeCmd, enableCmd,
		disableCmd, nowCmd, cancelCmd, configCmd, statusCmd, runCmd, startCmd,
		daemonCmd)
}

// openScheduler opens the shared store and builds a scheduler without
// enforcement, for one-off CLI commands. Caller must call the returned
// close func.
func openScheduler() (*usecase.Scheduler, func(), error) {
	logger := zap.NewNop()
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	scheduler := usecase.NewScheduler(
		store.Schedules(), store.Sessions(), store.Requests(), store.Config(),
		nil, nil, logger)
	return scheduler, func() { _ = store.Close() }, nil
}

func openStore() (*infra.Store, error) {
	dataDir := infra.DataDir()
	key, err := infra.NewKeyFile(dataDir).Ensure()
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption key: %w", err)
	}
	return infra.OpenStore(dataDir, key)
}

func runAdd(cmd *cobra.Command, args []string) error {
	start, err := usecase.ParseTimeOfDay(args[0])
	if err != nil {
		return err
	}
	end, err := usecase.ParseTimeOfDay(args[1])
	if err != nil {
		return err
	}

	mode := domain.ModeFullLockout
	if addBlockOnly {
		mode = domain.ModeAppBlockOnly
	}

	scheduler, closeStore, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeStore()

	apps := addApps
	if mode == domain.ModeAppBlockOnly && len(apps) == 0 {
		cfg, err := scheduler.Config()
		if err != nil {
			return err
		}
		apps = cfg.DefaultApps
	}

	id, err := scheduler.AddSchedule(start, end, mode, apps, addPersist, addDesc)
	if err != nil {
		return err
	}

	fmt.Printf("Added schedule %s: %s - %s (%s)\n", shortID(id), start, end, modeLabel(mode, apps))
	if addPersist {
		fmt.Println("Repeats daily.")
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	scheduler, closeStore, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeStore()

	schedules, err := scheduler.ListSchedules()
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		fmt.Println("No schedules.")
		return nil
	}

	now := time.Now()
	type row struct {
		schedule domain.Schedule
		next     usecase.Occurrence
		nextErr  error
	}
	rows := make([]row, 0, len(schedules))
	for _, schedule := range schedules {
		occ, err := usecase.NextOccurrence(schedule, now)
		rows = append(rows, row{schedule: schedule, next: occ, nextErr: err})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].next.Start.Before(rows[j].next.Start)
	})

	fmt.Println("\n=== Schedules (soonest first) ===")
	for _, r := range rows {
		s := r.schedule
		flags := make([]string, 0, 2)
		if s.Persist {
			flags = append(flags, "daily")
		}
		if !s.Enabled {
			flags = append(flags, "disabled")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " [" + strings.Join(flags, ", ") + "]"
		}

		fmt.Printf("\n[%s] %s - %s  %s%s\n", shortID(s.ID), s.StartTime, s.EndTime,
			modeLabel(s.Mode, s.Apps), suffix)
		if r.nextErr == nil && s.Enabled {
			fmt.Printf("  next: %s (in %s)\n",
				r.next.Start.Format("Mon 15:04"),
				humanDuration(r.next.Start.Sub(now)))
		}
		if s.Description != "" {
			fmt.Printf("  %s\n", s.Description)
		}
	}
	fmt.Println()
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	scheduler, closeStore, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeStore()

	sessions, err := scheduler.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	fmt.Println("\n=== Sessions ===")
	for _, s := range sessions {
		fmt.Printf("[%s] %-9s %s - %s  %s (%s)\n",
			shortID(s.ID), strings.ToUpper(string(s.State)),
			s.ScheduledStart.Format("Jan 02 15:04"),
			s.ScheduledEnd.Format("15:04"),
			modeLabel(s.Mode, s.Apps),
			string(s.Source))
	}
	fmt.Println()
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	scheduler, closeStore, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeStore()

	id, err := resolveScheduleID(scheduler, args[0])
	if err != nil {
		return err
	}
	if err := scheduler.RemoveSchedule(id); err != nil {
		return err
	}
	fmt.Printf("Removed schedule %s\n", shortID(id))
	return nil
}

func runSetEnabled(arg string, enabled bool) error {
	scheduler, closeStore, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeStore()

	id, err := resolveScheduleID(scheduler, arg)
	if err != nil {
		return err
	}
	if err := scheduler.SetScheduleEnabled(id, enabled); err != nil {
		return err
	}
	if enabled {
		fmt.Printf("Enabled schedule %s\n", shortID(id))
	} else {
		fmt.Printf("Disabled schedule %s\n", shortID(id))
	}
	return nil
}

func runNow(cmd *cobra.Command, args []string) error {
	mode := domain.ModeFullLockout
	if nowBlockOnly {
		mode = domain.ModeAppBlockOnly
	}

	scheduler, closeStore, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeStore()

	if err := scheduler.RequestInstant(nowDelay, nowDuration, mode, nowApps); err != nil {
		return err
	}

	fmt.Printf("Instant lockout queued: starts in %s, lasts %s (%s)\n",
		humanDuration(nowDelay), humanDuration(nowDuration), modeLabel(mode, nowApps))
	fmt.Println("The daemon picks it up on its next tick; check 'lmout status'.")
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	scheduler, closeStore, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeStore()

	id, err := resolveSessionID(scheduler, args[0])
	if err != nil {
		return err
	}
	if err := scheduler.CancelSession(id); err != nil {
		return err
	}
	fmt.Printf("Cancelled session %s\n", shortID(id))
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	scheduler, closeStore, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeStore()

	patch := domain.ConfigPatch{}
	changed := false
	if cmd.Flags().Changed("lead") {
		patch.LeadTimeMinutes = &cfgLeadMinutes
		changed = true
	}
	if cmd.Flags().Changed("default-apps") {
		patch.DefaultApps = cfgApps
		changed = true
	}
	if cmd.Flags().Changed("summary") {
		patch.NotifySummary = &cfgSummary
		changed = true
	}
	if cmd.Flags().Changed("body") {
		patch.NotifyBody = &cfgBody
		changed = true
	}

	var cfg domain.Config
	if changed {
		cfg, err = scheduler.UpdateConfig(patch)
	} else {
		cfg, err = scheduler.Config()
	}
	if err != nil {
		return err
	}

	fmt.Println("\n=== Configuration ===")
	fmt.Printf("Lead time:    %d minutes\n", cfg.LeadTimeMinutes)
	fmt.Printf("Default apps: %s\n", orNone(strings.Join(cfg.DefaultApps, ", ")))
	fmt.Printf("Summary:      %s\n", cfg.NotifySummary)
	fmt.Printf("Body:         %s\n", cfg.NotifyBody)
	if changed {
		fmt.Println("\nConfiguration saved.")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	stateFile := infra.NewStateFile(infra.StatePath())
	pm := infra.NewProcessManager()

	fmt.Println("\n=== Lock Me Out status ===")

	state, err := stateFile.Read()
	running := false
	if err != nil {
		fmt.Printf("State file unreadable: %v\n", err)
	} else if state != nil && pm.IsRunning(state.PID) {
		running = true
	}

	if running {
		fmt.Printf("Daemon: RUNNING (pid %d, last tick %s ago)\n",
			state.PID, time.Since(state.LastTick).Round(time.Second))
		if state.ActiveSession != "" {
			fmt.Printf("\nACTIVE LOCKOUT: session %s until %s\n",
				shortID(state.ActiveSession), state.ActiveUntil.Format("15:04"))
		} else {
			fmt.Println("\nNo lockout currently active.")
		}
	} else {
		fmt.Println("Daemon: NOT RUNNING")
		fmt.Println("\nStart it with 'lmout start' (or 'lmout start --install' for systemd).")
	}

	systemd := infra.NewSystemdManager()
	if systemd.IsInstalled() {
		if systemd.IsActive() {
			fmt.Println("systemd unit: installed, active")
		} else {
			fmt.Println("systemd unit: installed, inactive")
		}
	}
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	stateFile := infra.NewStateFile(infra.StatePath())
	pm := infra.NewProcessManager()
	if state, err := stateFile.Read(); err == nil && state != nil && pm.IsRunning(state.PID) {
		fmt.Printf("Daemon already running (pid %d).\n", state.PID)
		return nil
	}

	if startInstall {
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to resolve executable path: %w", err)
		}
		systemd := infra.NewSystemdManager()
		if systemd.IsInstalled() && !systemd.NeedsUpdate(execPath) {
			fmt.Println("systemd unit already installed.")
			return nil
		}
		if err := systemd.Install(execPath); err != nil {
			return fmt.Errorf("failed to install systemd unit: %w", err)
		}
		fmt.Printf("Installed and started %s\n", systemd.UnitPath())
		return nil
	}

	pid, err := daemon.SpawnDetached()
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	fmt.Printf("Daemon started (pid %d). Logs: %s\n", pid, infra.LogPath())
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store, err := openStore()
	if err != nil {
		// Unreadable persisted state is the one fatal startup error;
		// report it loudly instead of discarding state.
		logger.Error("cannot open store", zap.Error(err))
		return fmt.Errorf("cannot open persisted state: %w", err)
	}
	defer store.Close()

	notifier := infra.NewDesktopNotifier()
	enforcer := usecase.NewEnforcer(
		usecase.DefaultEnforcerConfig(),
		store.Sessions(),
		infra.NewProcessManager(),
		infra.NewSessionLocker(),
		notifier,
		logger,
	)
	scheduler := usecase.NewScheduler(
		store.Schedules(), store.Sessions(), store.Requests(), store.Config(),
		notifier, enforcer, logger)

	d := daemon.New(
		daemon.DefaultConfig(),
		scheduler,
		enforcer,
		store.Sessions(),
		infra.NewStateFile(infra.StatePath()),
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := d.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func createLogger() *zap.Logger {
	if err := os.MkdirAll(infra.DataDir(), 0700); err == nil {
		config := zap.NewProductionConfig()
		config.OutputPaths = []string{infra.LogPath()}
		config.ErrorOutputPaths = []string{infra.LogPath()}
		config.EncoderConfig.TimeKey = "time"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if logger, err := config.Build(); err == nil {
			return logger
		}
	}
	// Fallback to stderr if file logging fails
	logger, _ := zap.NewProduction()
	return logger
}

// resolveScheduleID accepts a full or unambiguous short id prefix.
func resolveScheduleID(scheduler *usecase.Scheduler, arg string) (string, error) {
	schedules, err := scheduler.ListSchedules()
	if err != nil {
		return "", err
	}
	ids := make([]string, len(schedules))
	for i, s := range schedules {
		ids[i] = s.ID
	}
	return resolveID(ids, arg, domain.ErrScheduleNotFound)
}

func resolveSessionID(scheduler *usecase.Scheduler, arg string) (string, error) {
	sessions, err := scheduler.ListSessions()
	if err != nil {
		return "", err
	}
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return resolveID(ids, arg, domain.ErrSessionNotFound)
}

func resolveID(ids []string, arg string, notFound error) (string, error) {
	var matches []string
	for _, id := range ids {
		if id == arg {
			return id, nil
		}
		if strings.HasPrefix(id, arg) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", notFound
	default:
		return "", fmt.Errorf("ambiguous id %q matches %d entries", arg, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func modeLabel(mode domain.LockMode, apps []string) string {
	if mode == domain.ModeAppBlockOnly {
		return "block: " + strings.Join(apps, ", ")
	}
	return "full lockout"
}

func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	d = d.Round(time.Minute)
	if d < time.Minute {
		return "under a minute"
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

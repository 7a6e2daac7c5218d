package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/osa911/stackctl/internal/metrics"
	"github.com/osa911/stackctl/internal/service"
	"github.com/osa911/stackctl/internal/tasks"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule [stack...]",
	Short: "Run backups and health checks on a cron schedule",
	Long: `Schedule runs in the foreground and backs up every stack with a PostgreSQL
service on BACKUP_SCHEDULE and, when HEALTH_SCHEDULE is set, health-checks
every stack. Stacks are looked up again on every run, so new stacks are
picked up without a restart. SIGINT or SIGTERM stop the scheduler after the
running job returns.

Use 'stackctl schedule install' to run it as a system service.`,
	Run: func(cmd *cobra.Command, args []string) {
		textfileDir, _ := cmd.Flags().GetString("textfile-dir")
		ctx := cmd.Context()

		client := newDockerClient()
		remote := newRemoteStore(ctx)
		backups := service.NewBackupService(cfg, client, remote)
		checker := service.NewHealthService(cfg, client, newTraefikClient())

		scheduler := tasks.NewScheduler()
		backupJob := func(ctx context.Context) error {
			stacks, err := service.OpenStacks(cfg, args)
			if err != nil {
				return err
			}
			var textfile *metrics.Textfile
			if textfileDir != "" {
				textfile = metrics.NewTextfile()
			}
			var errs []error
			for _, stack := range stacks {
				if _, err := stack.DatabaseService(""); err != nil {
					continue
				}
				if _, err := backups.Backup(ctx, stack, service.BackupOptions{Upload: true, Metrics: textfile}); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", stack.Name, err))
				}
			}
			if textfile != nil {
				if err := textfile.Write(filepath.Join(textfileDir, "stackctl_backup.prom")); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		}
		healthJob := func(ctx context.Context) error {
			stacks, err := service.OpenStacks(cfg, args)
			if err != nil {
				return err
			}
			var textfile *metrics.Textfile
			if textfileDir != "" {
				textfile = metrics.NewTextfile()
			}
			var errs []error
			for _, stack := range stacks {
				report := checker.Check(ctx, stack, textfile)
				for _, c := range report.Checks {
					if c.Status == service.StatusCritical {
						logger.Error("%s: %s %s: %s", stack.Name, c.Name, c.Target, c.Message)
					} else if c.Status == service.StatusWarning {
						logger.Warn("%s: %s %s: %s", stack.Name, c.Name, c.Target, c.Message)
					}
				}
				if !report.Healthy() {
					errs = append(errs, fmt.Errorf("%s is unhealthy", stack.Name))
				}
			}
			if textfile != nil {
				if err := textfile.Write(filepath.Join(textfileDir, "stackctl_health.prom")); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		}

		if err := scheduler.Add(ctx, "backup", cfg.BackupSchedule, backupJob); err != nil {
			exit("%v", err)
		}
		if err := scheduler.Add(ctx, "health-check", cfg.HealthSchedule, healthJob); err != nil {
			exit("%v", err)
		}
		if scheduler.Len() == 0 {
			exit("Nothing to schedule; set BACKUP_SCHEDULE or HEALTH_SCHEDULE")
		}

		for name, next := range scheduler.NextRuns() {
			logger.Info("Next %s at %s", name, next.Format(time.RFC1123))
		}
		scheduler.Run(ctx)
	},
}

var scheduleInstallCmd = &cobra.Command{
	Use:   "install [stack...]",
	Short: "Install 'stackctl schedule' as a system service",
	Long: `Install writes a systemd unit (Linux) or a launch agent (macOS) that runs
'stackctl schedule' from the stacks root and starts it. On Linux this
needs root.`,
	Run: func(cmd *cobra.Command, args []string) {
		installer, err := service.NewScheduleInstaller()
		if err != nil {
			exit("%v", err)
		}
		executable, err := os.Executable()
		if err != nil {
			exit("Failed to locate the stackctl binary: %v", err)
		}
		envFile, _ := cmd.Flags().GetString("env-file")
		if envFile == "" {
			envFile = filepath.Join(cfg.RootDir, "stackctl.env")
		}

		path, err := installer.Install(cmd.Context(), service.ScheduleInstallOptions{
			Executable: executable,
			WorkDir:    cfg.RootDir,
			EnvFile:    absPath(envFile),
			Stacks:     args,
		})
		if err != nil {
			exit("Failed to install %s: %v", installer, err)
		}
		logger.Success("Installed %s (%s)", installer, path)
	},
}

var scheduleUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the scheduler service",
	Run: func(cmd *cobra.Command, args []string) {
		installer, err := service.NewScheduleInstaller()
		if err != nil {
			exit("%v", err)
		}
		if err := installer.Uninstall(cmd.Context()); err != nil {
			exit("Failed to uninstall %s: %v", installer, err)
		}
		logger.Success("Uninstalled %s", installer)
	},
}

var scheduleStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the scheduler service runs and when jobs fire next",
	Run: func(cmd *cobra.Command, args []string) {
		installer, err := service.NewScheduleInstaller()
		if err != nil {
			exit("%v", err)
		}
		active, err := installer.Active(cmd.Context())
		if err != nil {
			exit("Failed to query %s: %v", installer, err)
		}
		if active {
			logger.Info("✅ %s is running", installer)
		} else {
			logger.Warn("%s is not running", installer)
		}

		// Dry scheduler only used to compute the next activations.
		scheduler := tasks.NewScheduler()
		noop := func(context.Context) error { return nil }
		if err := scheduler.Add(cmd.Context(), "backup", cfg.BackupSchedule, noop); err != nil {
			exit("%v", err)
		}
		if err := scheduler.Add(cmd.Context(), "health-check", cfg.HealthSchedule, noop); err != nil {
			exit("%v", err)
		}
		runs := scheduler.NextRuns()
		for _, name := range scheduler.Names() {
			logger.Info("Next %s at %s", name, runs[name].Format(time.RFC1123))
		}
	},
}

func initScheduleCommands() {
	scheduleCmd.Flags().String("textfile-dir", "", "Write Prometheus textfile metrics into this directory")
	scheduleInstallCmd.Flags().String("env-file", "", "Environment file for the service (default <root>/stackctl.env)")

	scheduleCmd.AddCommand(scheduleInstallCmd)
	scheduleCmd.AddCommand(scheduleUninstallCmd)
	scheduleCmd.AddCommand(scheduleStatusCmd)
	rootCmd.AddCommand(scheduleCmd)
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/osa911/stackctl/internal/cli"
	"github.com/osa911/stackctl/internal/metrics"
	"github.com/osa911/stackctl/internal/service"
)

var backupCmd = &cobra.Command{
	Use:   "backup [stack...]",
	Short: "Back up the PostgreSQL database of one or more stacks",
	Long: `Backup streams pg_dump from the stack's database service into a gzip
compressed file under BACKUP_DIR/<stack>/, writes a manifest with its
SHA-256 checksum and prunes backups older than BACKUP_RETENTION_DAYS.

Without arguments every stack that has a PostgreSQL service is backed up.
When BACKUP_S3_BUCKET is set the backup is also uploaded.

Example:
  stackctl backup shop
  stackctl backup --textfile /var/lib/node_exporter/stackctl_backup.prom`,
	Run: func(cmd *cobra.Command, args []string) {
		svcName, _ := cmd.Flags().GetString("service")
		noUpload, _ := cmd.Flags().GetBool("no-upload")
		noPrune, _ := cmd.Flags().GetBool("no-prune")
		textfilePath, _ := cmd.Flags().GetString("textfile")

		stacks := openStacks(args)
		backups := service.NewBackupService(cfg, newDockerClient(), newRemoteStore(cmd.Context()))

		var textfile *metrics.Textfile
		if textfilePath != "" {
			textfile = metrics.NewTextfile()
		}

		failed := 0
		for _, stack := range stacks {
			if len(args) == 0 {
				if _, err := stack.DatabaseService(svcName); err != nil {
					logger.Debug("Skipping %s: %v", stack.Name, err)
					continue
				}
			}
			_, err := backups.Backup(cmd.Context(), stack, service.BackupOptions{
				Service: svcName,
				Upload:  !noUpload,
				NoPrune: noPrune,
				Metrics: textfile,
			})
			if err != nil {
				logger.Error("Backup of %s failed: %v", stack.Name, err)
				failed++
			}
		}

		if textfile != nil {
			if err := textfile.Write(textfilePath); err != nil {
				logger.Error("%v", err)
				failed++
			}
		}
		if failed > 0 {
			exit("%d backup(s) failed", failed)
		}
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list <stack>",
	Short: "List the backups of a stack",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		stack := openStack(args[0])
		remote, _ := cmd.Flags().GetBool("remote")
		backups := service.NewBackupService(cfg, newDockerClient(), newRemoteStore(cmd.Context()))

		if remote {
			objects, err := backups.ListRemote(cmd.Context(), stack)
			if err != nil {
				exit("Failed to list offsite backups: %v", err)
			}
			if outputJSON(cmd) {
				printJSON(objects)
				return
			}
			if len(objects) == 0 {
				fmt.Println("No backups found")
				return
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
			for _, o := range objects {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.Local().Format(time.DateTime))
			}
			tw.Flush()
			return
		}

		files, err := backups.List(stack)
		if err != nil {
			exit("Failed to list backups: %v", err)
		}
		if outputJSON(cmd) {
			printJSON(files)
			return
		}
		cli.PrintBackups(os.Stdout, files, time.Now())
	},
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune <stack>",
	Short: "Delete backups older than BACKUP_RETENTION_DAYS",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		stack := openStack(args[0])
		remote, _ := cmd.Flags().GetBool("remote")

		if remote {
			store := newRemoteStore(cmd.Context())
			if store == nil {
				exit("Offsite backups are not configured (set BACKUP_S3_BUCKET)")
			}
			backups := service.NewBackupService(cfg, newDockerClient(), store)
			removed, err := backups.PruneRemote(cmd.Context(), stack)
			if err != nil {
				exit("Failed to prune offsite backups: %v", err)
			}
			logger.Info("Removed %d offsite backup(s) of %s", len(removed), stack.Name)
			return
		}

		backups := service.NewBackupService(cfg, newDockerClient(), nil)
		removed, err := backups.Prune(stack)
		if err != nil {
			exit("Failed to prune backups: %v", err)
		}
		logger.Info("Removed %d backup(s) of %s", len(removed), stack.Name)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <stack> [backup]",
	Short: "Restore a stack's database from a backup",
	Long: `Restore loads a backup into the stack's PostgreSQL database. The backup is
a file path, a file name inside BACKUP_DIR/<stack>/, "latest" (default) or
s3://<key> for an offsite copy.

The application services are stopped during the restore and started again
afterwards, also when the restore fails. This overwrites the current data
and asks for confirmation unless --yes is given.

Example:
  stackctl restore shop
  stackctl restore shop shop_app_20250301_030000.sql.gz --yes`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		stack := openStack(args[0])
		source := "latest"
		if len(args) == 2 {
			source = args[1]
		}

		svcName, _ := cmd.Flags().GetString("service")
		yes, _ := cmd.Flags().GetBool("yes")
		keepRunning, _ := cmd.Flags().GetBool("keep-running")

		client := newDockerClient()
		remote := newRemoteStore(cmd.Context())
		restorer := service.NewRestoreService(client, service.NewBackupService(cfg, client, remote), remote)

		err := restorer.Restore(cmd.Context(), stack, source, service.RestoreOptions{
			Service:     svcName,
			Yes:         yes,
			Confirm:     cli.Confirmer(),
			KeepRunning: keepRunning,
		})
		if err != nil {
			exit("Restore of %s failed: %v", stack.Name, err)
		}
	},
}

func initBackupCommands() {
	backupCmd.Flags().String("service", "", "Database service (default: detected PostgreSQL service)")
	backupCmd.Flags().Bool("no-upload", false, "Skip the offsite upload")
	backupCmd.Flags().Bool("no-prune", false, "Keep old backups")
	backupCmd.Flags().String("textfile", "", "Write Prometheus textfile metrics to this path")

	backupListCmd.Flags().Bool("remote", false, "List offsite backups instead of local ones")
	backupPruneCmd.Flags().Bool("remote", false, "Prune offsite backups instead of local ones")

	backupListCmd.Flags().StringP("output", "o", "text", "Output format: text or json")

	restoreCmd.Flags().String("service", "", "Database service (default: detected PostgreSQL service)")
	restoreCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	restoreCmd.Flags().Bool("keep-running", false, "Do not stop the application services")

	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupPruneCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}

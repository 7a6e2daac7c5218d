package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/osa911/stackctl/internal/compose"
	"github.com/osa911/stackctl/internal/config"
	"github.com/osa911/stackctl/internal/version"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the stackctl configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	Run: func(cmd *cobra.Command, args []string) {
		shown := redacted(cfg)
		if outputJSON(cmd) {
			printJSON(shown)
			return
		}

		stacks, err := cfg.Stacks(compose.Exists)
		if err != nil {
			logger.Warn("Failed to list stacks: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		rows := [][2]string{
			{"Root", shown.RootDir},
			{"Stacks", strings.Join(stackNames(stacks), ", ")},
			{"Traefik stack", shown.TraefikStack},
			{"Traefik API", orNone(shown.TraefikAPIURL)},
			{"Networks", strings.Join(shown.Networks, ", ")},
			{"Docker", shown.DockerBinary},
			{"Backup dir", shown.BackupDir},
			{"Backup retention", fmt.Sprintf("%d days, keep %d", shown.BackupRetentionDays, shown.BackupKeep)},
			{"Backup schedule", orNone(shown.BackupSchedule)},
			{"Health schedule", orNone(shown.HealthSchedule)},
			{"S3 bucket", orNone(shown.S3.Bucket)},
			{"S3 credentials", orNone(shown.S3.SecretAccessKey)},
			{"Wait", fmt.Sprintf("%s every %s", shown.WaitTimeout, shown.WaitInterval)},
			{"Server IP", orNone(shown.ServerIP)},
			{"Log", fmt.Sprintf("%s %s", shown.LogLevel, shown.LogFile)},
			{"OTLP endpoint", orNone(shown.OTLPEndpoint)},
		}
		for _, row := range rows {
			fmt.Fprintf(w, "%s:\t%s\n", row[0], row[1])
		}
		w.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the stackctl, Docker Engine and Docker Compose versions",
	Run: func(cmd *cobra.Command, args []string) {
		if outputJSON(cmd) {
			printJSON(version.GetBuildInfo())
			return
		}
		fmt.Printf("stackctl %s\n", version.Info())

		client := newDockerClient()
		if engine, err := client.Version(cmd.Context()); err != nil {
			logger.Warn("Docker Engine unavailable: %v", err)
		} else {
			fmt.Printf("docker engine %s\n", engine)
		}

		composeVersion, err := client.ComposeVersion(cmd.Context())
		if err != nil {
			logger.Warn("Docker Compose unavailable: %v", err)
			return
		}
		fmt.Printf("docker compose %s\n", composeVersion)
		if err := version.CheckComposeVersion(composeVersion); err != nil {
			logger.Warn("%v", err)
		}
	},
}

// redacted returns a copy of c safe to print.
func redacted(c *config.Config) config.Config {
	shown := *c
	if shown.S3.SecretAccessKey != "" {
		shown.S3.SecretAccessKey = "********"
	}
	return shown
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func initConfigCommands() {
	configShowCmd.Flags().StringP("output", "o", "text", "Output format (text, json)")
	versionCmd.Flags().StringP("output", "o", "text", "Output format (text, json)")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func stackNames(dirs []string) []string {
	names := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		names = append(names, config.StackName(dir))
	}
	return names
}

package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/osa911/stackctl/internal/cli"
	"github.com/osa911/stackctl/internal/metrics"
	"github.com/osa911/stackctl/internal/service"
	"github.com/osa911/stackctl/internal/traefik"
)

var healthCheckCmd = &cobra.Command{
	Use:   "health-check [stack...]",
	Short: "Check containers, database, routes, TLS and DNS of stacks",
	Long: `Health-check verifies for each stack:
- every compose service is running, and healthy when it has a healthcheck
- the PostgreSQL service accepts connections
- every public host answers HTTPS on HEALTH_PATH with 2xx or 3xx
- the certificate of every host is valid and not about to expire
- every host resolves, to SERVER_IP when it is set
- Traefik has an enabled router for every host

Without arguments all stacks are checked. The exit code is 1 when any
critical check failed.

Example:
  stackctl health-check shop
  stackctl health-check --textfile /var/lib/node_exporter/stackctl_health.prom`,
	Run: func(cmd *cobra.Command, args []string) {
		textfilePath, _ := cmd.Flags().GetString("textfile")
		stacks := openStacks(args)

		var textfile *metrics.Textfile
		if textfilePath != "" {
			textfile = metrics.NewTextfile()
		}

		checker := service.NewHealthService(cfg, newDockerClient(), newTraefikClient())
		reports := make([]*service.HealthReport, 0, len(stacks))
		healthy := true
		for _, stack := range stacks {
			report := checker.Check(cmd.Context(), stack, textfile)
			reports = append(reports, report)
			if !report.Healthy() {
				healthy = false
			}
		}

		if outputJSON(cmd) {
			printJSON(reports)
		} else {
			for _, report := range reports {
				cli.PrintHealth(os.Stdout, report)
			}
		}

		if textfile != nil {
			if err := textfile.Write(textfilePath); err != nil {
				exit("%v", err)
			}
		}
		if !healthy {
			exit("Health check failed")
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [stack...]",
	Short: "Show services, URLs, backups, networks and certificates",
	Long: `Status prints for each stack its services with state, health and ports,
its public URLs, the newest backup and whether its external networks exist,
followed by the Traefik overview and the certificates stored in acme.json.

Without arguments all stacks are shown.`,
	Run: func(cmd *cobra.Command, args []string) {
		stacks := openStacks(args)
		client := newDockerClient()
		collector := service.NewStatusService(cfg, client, service.NewNetworkService(client), service.NewBackupService(cfg, client, nil), newTraefikClient())

		report, err := collector.Collect(cmd.Context(), stacks)
		if err != nil {
			exit("Failed to collect status: %v", err)
		}
		if outputJSON(cmd) {
			printJSON(report)
			return
		}
		cli.PrintStatus(os.Stdout, report, cfg.CertExpiryWarnDays)
	},
}

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "List the certificates Traefik stored in acme.json",
	Run: func(cmd *cobra.Command, args []string) {
		proxy := openStack(cfg.TraefikStack)
		path := service.ACMEPath(proxy)

		certs, err := traefik.ReadACMECertificates(path)
		if err != nil {
			exit("Failed to read %s: %v", path, err)
		}
		if outputJSON(cmd) {
			printJSON(certs)
			return
		}
		if len(certs) == 0 {
			logger.Info("No certificates in %s yet", path)
			return
		}
		cli.PrintCertificates(os.Stdout, certs, time.Now(), cfg.CertExpiryWarnDays)

		now := time.Now()
		for _, c := range certs {
			if c.DaysLeft(now) < cfg.CertExpiryWarnDays {
				logger.Warn("Certificate for %s expires in %d days", c.Main, c.DaysLeft(now))
			}
		}
	},
}

func initHealthCommands() {
	healthCheckCmd.Flags().String("textfile", "", "Write Prometheus textfile metrics to this path")
	healthCheckCmd.Flags().StringP("output", "o", "text", "Output format: text or json")
	statusCmd.Flags().StringP("output", "o", "text", "Output format: text or json")
	certsCmd.Flags().StringP("output", "o", "text", "Output format: text or json")

	rootCmd.AddCommand(healthCheckCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(certsCmd)
}

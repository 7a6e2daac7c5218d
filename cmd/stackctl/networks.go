package main

import (
	"github.com/spf13/cobra"

	"github.com/osa911/stackctl/internal/cli"
	"github.com/osa911/stackctl/internal/compose"
	"github.com/osa911/stackctl/internal/service"
)

var createNetworksCmd = &cobra.Command{
	Use:   "create-networks [stack...]",
	Short: "Create the shared Docker networks",
	Long: `Create-networks creates every network listed in STACKCTL_NETWORKS plus the
external networks declared by the given stacks (all stacks when none are
given). Existing networks are left untouched, so running it twice is safe.`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		var stacks []*service.Stack
		if len(args) > 0 {
			stacks = openStacks(args)
		} else if dirs, err := cfg.Stacks(compose.Exists); err == nil && len(dirs) > 0 {
			stacks = openStacks(dirs)
		}

		names := service.RequiredNetworks(cfg, stacks...)
		if len(names) == 0 {
			logger.Info("No networks to create")
			return
		}

		results, err := service.NewNetworkService(newDockerClient()).Ensure(cmd.Context(), names, dryRun)
		if err != nil {
			exit("Failed to create networks: %v", err)
		}
		created := 0
		for _, r := range results {
			if r.Created {
				created++
			}
		}
		logger.Info("%d network(s) created, %d already present", created, len(results)-created)
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait-for-services <stack> [service...]",
	Short: "Wait until a stack's services are running and healthy",
	Long: `Wait-for-services polls docker compose ps until every listed service (all
services when none are listed) is running and, when it defines a
healthcheck, healthy. It fails fast when a service exits or stays
unhealthy, and fails with the pending services after the timeout.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		stack := openStack(args[0])
		timeout, _ := cmd.Flags().GetDuration("timeout")
		interval, _ := cmd.Flags().GetDuration("interval")
		if timeout == 0 {
			timeout = cfg.WaitTimeout
		}
		if interval == 0 {
			interval = cfg.WaitInterval
		}

		err := service.NewWaitService(newDockerClient()).Wait(cmd.Context(), stack, service.WaitOptions{
			Services: args[1:],
			Timeout:  timeout,
			Interval: interval,
			Spinner:  cli.Interactive(),
		})
		if err != nil {
			exit("%v", err)
		}
	},
}

func initNetworkCommands() {
	createNetworksCmd.Flags().Bool("dry-run", false, "Only report which networks are missing")
	waitCmd.Flags().Duration("timeout", 0, "Maximum time to wait (default WAIT_TIMEOUT)")
	waitCmd.Flags().Duration("interval", 0, "Polling interval (default WAIT_INTERVAL)")

	rootCmd.AddCommand(createNetworksCmd)
	rootCmd.AddCommand(waitCmd)
}

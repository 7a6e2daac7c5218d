package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/osa911/stackctl/internal/cli"
	"github.com/osa911/stackctl/internal/service"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <stack>",
	Short: "Validate a stack's environment and bring it up",
	Long: `Deploy validates the stack's .env, checks the Docker Compose version and
the compose file, creates missing shared networks and starts the stack with
docker compose up -d --remove-orphans. It then waits until every service is
running and healthy and prints the public URLs.

Deploying the proxy stack also prepares acme.json with mode 0600.

Example:
  stackctl deploy traefik
  stackctl deploy shop --pull --require SMTP_HOST
  stackctl deploy ./stacks/shop --dry-run`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		stack := openStack(args[0])

		require, _ := cmd.Flags().GetStringSlice("require")
		services, _ := cmd.Flags().GetStringSlice("service")
		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		pull, _ := cmd.Flags().GetBool("pull")
		build, _ := cmd.Flags().GetBool("build")
		noWait, _ := cmd.Flags().GetBool("no-wait")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if timeout == 0 {
			timeout = cfg.WaitTimeout
		}

		client := newDockerClient()
		waiter := service.NewWaitService(client)
		deployer := service.NewDeployService(cfg, client, service.NewNetworkService(client), waiter)

		res, err := deployer.Deploy(cmd.Context(), stack, service.DeployOptions{
			Require:  require,
			Services: services,
			Yes:      yes,
			Confirm:  cli.Confirmer(),
			DryRun:   dryRun,
			Pull:     pull,
			Build:    build,
			NoWait:   noWait,
			Wait: service.WaitOptions{
				Timeout:  timeout,
				Interval: cfg.WaitInterval,
				Spinner:  cli.Interactive(),
			},
		})
		if err != nil {
			exit("Deployment of %s failed: %v", stack.Name, err)
		}

		if dryRun {
			fmt.Println("Plan:")
			for _, step := range res.Plan {
				fmt.Printf("  - %s\n", step)
			}
			return
		}

		logger.Success("Deployed %s (docker compose %s)", stack.Name, res.ComposeVersion)
		if len(res.URLs) > 0 {
			fmt.Fprintf(os.Stdout, "\n🌐 %s\n", strings.Join(res.URLs, "\n🌐 "))
		}
	},
}

var downCmd = &cobra.Command{
	Use:   "down <stack>",
	Short: "Stop and remove a stack's containers",
	Long: `Down runs docker compose down for the stack. Volumes and networks created
outside the stack are kept.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		stack := openStack(args[0])
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			confirm := cli.Confirmer()
			if confirm == nil {
				exit("Refusing to stop %s without a terminal; re-run with --yes", stack.Name)
			}
			ok, err := confirm(fmt.Sprintf("Stop and remove the containers of %s?", stack.Name))
			if err != nil {
				exit("%v", err)
			}
			if !ok {
				exit("%v", service.ErrAborted)
			}
		}

		if err := newDockerClient().ComposeDown(cmd.Context(), stack.Project()); err != nil {
			exit("Failed to stop %s: %v", stack.Name, err)
		}
		logger.Success("Stopped %s", stack.Name)
	},
}

func initDeployCommands() {
	deployCmd.Flags().StringSlice("require", nil, "Additional .env keys that must be set")
	deployCmd.Flags().StringSlice("service", nil, "Only deploy these services")
	deployCmd.Flags().BoolP("yes", "y", false, "Continue without confirmation when weak secrets are found")
	deployCmd.Flags().Bool("dry-run", false, "Validate and print the plan without changing anything")
	deployCmd.Flags().Bool("pull", false, "Pull images before starting")
	deployCmd.Flags().Bool("build", false, "Build images before starting")
	deployCmd.Flags().Bool("no-wait", false, "Do not wait for services to become healthy")
	deployCmd.Flags().Duration("timeout", 0, "How long to wait for services (default WAIT_TIMEOUT)")

	downCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(downCmd)
}

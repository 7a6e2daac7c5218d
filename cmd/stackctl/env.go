package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/osa911/stackctl/internal/envfile"
	"github.com/osa911/stackctl/internal/service"
	"github.com/osa911/stackctl/internal/traefik"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Check and create stack .env files",
}

var envCheckCmd = &cobra.Command{
	Use:   "check <stack>",
	Short: "Validate a stack's .env without deploying",
	Long: `Check reports required variables that are missing or empty, values with an
invalid format and weak or placeholder secrets. The exit code is 1 when a
required variable is missing or a value is invalid; weak secrets only warn.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		stack := openStack(args[0])
		require, _ := cmd.Flags().GetStringSlice("require")

		if stack.EnvErr != nil {
			exit("%v", stack.EnvErr)
		}
		logger.Info("Checking %s", stack.Env.Path)

		required := service.RequiredVariables(cfg, stack, require)
		missing := stack.Env.Missing(required)
		for _, key := range missing {
			logger.Failure("%s is not set", key)
		}

		problems := stack.Env.Validate()
		for _, p := range problems {
			logger.Failure("%s", p)
		}
		weak := stack.Env.WeakSecrets()
		for _, p := range weak {
			logger.Warn("%s", p)
		}

		if len(missing) > 0 || envfile.HasErrors(problems) {
			exit("%s is not ready to deploy", stack.Env.Path)
		}
		logger.Success("%d required variables set, %d warning(s)", len(required), len(weak))
	},
}

var envInitCmd = &cobra.Command{
	Use:   "init <stack>",
	Short: "Create .env from .env.example with generated secrets",
	Long: `Init copies .env.example to .env and fills every empty or placeholder
secret (keys containing PASSWORD, SECRET or TOKEN, or ending in _KEY) with
a random value. The file is written with mode 0600.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		dir := cfg.StackDir(args[0])

		generated, err := envfile.Init(dir, force)
		if err != nil {
			exit("Failed to create .env: %v", err)
		}
		for _, key := range generated {
			logger.Info("Generated %s", key)
		}
		logger.Success("Created %s/%s; review the remaining values before deploying", dir, envfile.FileName)
	},
}

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Generate secrets",
}

var secretsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print random URL-safe secrets",
	Run: func(cmd *cobra.Command, args []string) {
		size, _ := cmd.Flags().GetInt("bytes")
		count, _ := cmd.Flags().GetInt("count")
		for i := 0; i < count; i++ {
			secret, err := envfile.GenerateSecret(size)
			if err != nil {
				exit("%v", err)
			}
			fmt.Println(secret)
		}
	},
}

var traefikCmd = &cobra.Command{
	Use:   "traefik",
	Short: "Traefik helpers",
}

var htpasswdCmd = &cobra.Command{
	Use:   "htpasswd <user>",
	Short: "Print a bcrypt htpasswd line for the dashboard basic auth",
	Long: `Htpasswd prints user:hash for Traefik's basicauth middleware. Dollar signs
are doubled so the line can be pasted into a compose label or .env file;
pass --no-escape for a plain htpasswd file. With --check the command instead
verifies the password against an existing line and exits 1 on mismatch.

Examples:
  stackctl traefik htpasswd admin --password-stdin < password.txt
  stackctl traefik htpasswd admin --check "$TRAEFIK_DASHBOARD_AUTH" --password-stdin`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		password, _ := cmd.Flags().GetString("password")
		fromStdin, _ := cmd.Flags().GetBool("password-stdin")
		noEscape, _ := cmd.Flags().GetBool("no-escape")
		check, _ := cmd.Flags().GetString("check")

		if fromStdin {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				exit("Failed to read password from stdin: %v", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			exit("Provide the password with --password or --password-stdin")
		}

		if check != "" {
			if user, _, _ := strings.Cut(check, ":"); user != args[0] {
				exit("Line is for user %q, not %q", user, args[0])
			}
			if !traefik.VerifyPassword(check, password) {
				exit("Password does not match")
			}
			logger.Success("Password matches")
			return
		}

		line, err := traefik.HashPassword(args[0], password, !noEscape)
		if err != nil {
			exit("%v", err)
		}
		fmt.Println(line)
	},
}

func initEnvCommands() {
	envCheckCmd.Flags().StringSlice("require", nil, "Additional keys that must be set")
	envInitCmd.Flags().Bool("force", false, "Overwrite an existing .env")
	secretsGenerateCmd.Flags().Int("bytes", 32, "Random bytes per secret")
	secretsGenerateCmd.Flags().IntP("count", "n", 1, "Number of secrets")
	htpasswdCmd.Flags().String("password", "", "Password (visible in the process list; prefer --password-stdin)")
	htpasswdCmd.Flags().Bool("password-stdin", false, "Read the password from stdin")
	htpasswdCmd.Flags().Bool("no-escape", false, "Do not double dollar signs")
	htpasswdCmd.Flags().String("check", "", "Verify the password against this user:hash line")

	envCmd.AddCommand(envCheckCmd)
	envCmd.AddCommand(envInitCmd)
	secretsCmd.AddCommand(secretsGenerateCmd)
	traefikCmd.AddCommand(htpasswdCmd)

	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(secretsCmd)
	rootCmd.AddCommand(traefikCmd)
}

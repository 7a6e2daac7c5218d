package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/osa911/stackctl/internal/cli"
	"github.com/osa911/stackctl/internal/config"
	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/logging"
	"github.com/osa911/stackctl/internal/service"
	"github.com/osa911/stackctl/internal/storage/s3"
	"github.com/osa911/stackctl/internal/telemetry"
	"github.com/osa911/stackctl/internal/traefik"
)

var (
	logger  *logging.Logger
	cfg     *config.Config
	tracer  *telemetry.Tracer
	cmdSpan trace.Span
)

var rootCmd = &cobra.Command{
	Use:   "stackctl",
	Short: "stackctl - deploy and operate Traefik fronted Docker Compose stacks",
	Long: `stackctl runs a Traefik reverse proxy and the application stacks behind it
on a single Docker host. It validates each stack's .env, creates the shared
networks, deploys with docker compose, backs up and restores PostgreSQL, and
checks that every public route answers over valid TLS.

Stacks are directories under STACKCTL_ROOT holding a docker-compose.yml and
a .env file. Address them by directory name or by path.`,
	SilenceUsage:      true,
	PersistentPreRun:  setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { finish(nil) },
}

// setup loads configuration, the logger and the tracer before any command.
func setup(cmd *cobra.Command, args []string) {
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		os.Setenv("STACKCTL_ROOT", root)
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = logging.LevelDebug
	}

	console := consoleOutput(cmd)
	logConfig := cfg.LogConfig()
	logConfig.Output = console
	logConfig.NoColor = !cli.IsTerminal(console)
	if err := logging.InitLogger(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logging.GetGlobalLogger()

	tracer, err = telemetry.New(cmd.Context(), cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("Tracing disabled: %v", err)
		tracer, _ = telemetry.New(cmd.Context(), "")
	}
	if tracer.Enabled() {
		logger.Debug("Exporting traces to %s", cfg.OTLPEndpoint)
	}
	ctx, span := tracer.Start(cmd.Context(), cmd.CommandPath(),
		attribute.StringSlice("stackctl.args", args),
		attribute.String("stackctl.root", cfg.RootDir),
	)
	cmdSpan = span
	cmd.SetContext(ctx)
}

// finish ends the command span and flushes telemetry.
func finish(err error) {
	if cmdSpan != nil {
		telemetry.End(cmdSpan, err)
		cmdSpan = nil
	}
	if tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Debug("Failed to flush traces: %v", err)
		}
	}
}

// exit logs the error and terminates with status 1.
func exit(format string, args ...interface{}) {
	logger.Error(format, args...)
	finish(fmt.Errorf(format, args...))
	os.Exit(1)
}

func newDockerClient() *docker.Client {
	client := docker.NewClient(docker.NewExecRunner(cfg.DockerBinary))
	if cli.IsTerminal(os.Stderr) {
		client = client.WithProgress(os.Stderr)
	}
	return client
}

// newRemoteStore returns nil when no bucket is configured.
func newRemoteStore(ctx context.Context) *s3.Store {
	if !cfg.S3.Enabled() {
		return nil
	}
	store, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Prefix:          cfg.S3.Prefix,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		ForcePathStyle:  cfg.S3.ForcePathStyle,
	})
	if err != nil {
		exit("Failed to configure offsite backups: %v", err)
	}
	return store
}

func newTraefikClient() traefik.Client {
	if cfg.TraefikAPIURL == "" {
		return nil
	}
	return traefik.NewClient(cfg.TraefikAPIURL)
}

func openStack(nameOrPath string) *service.Stack {
	stack, err := service.OpenStack(cfg, nameOrPath)
	if err != nil {
		exit("%v", err)
	}
	return stack
}

func openStacks(names []string) []*service.Stack {
	stacks, err := service.OpenStacks(cfg, names)
	if err != nil {
		exit("%v", err)
	}
	return stacks
}

func outputJSON(cmd *cobra.Command) bool {
	output, _ := cmd.Flags().GetString("output")
	return output == "json"
}

// consoleOutput is where log lines go. JSON output owns stdout.
func consoleOutput(cmd *cobra.Command) *os.File {
	if outputJSON(cmd) {
		return os.Stderr
	}
	return os.Stdout
}

func printJSON(v interface{}) {
	if err := cli.PrintJSON(os.Stdout, v); err != nil {
		exit("Failed to encode output: %v", err)
	}
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func init() {
	rootCmd.PersistentFlags().String("root", "", "Directory holding the stacks (overrides STACKCTL_ROOT)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	initDeployCommands()
	initBackupCommands()
	initHealthCommands()
	initNetworkCommands()
	initEnvCommands()
	initScheduleCommands()
	initConfigCommands()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Flag and argument errors; cobra already printed them.
		os.Exit(1)
	}
}

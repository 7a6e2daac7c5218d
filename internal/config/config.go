package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/osa911/stackctl/internal/logging"
)

// Config holds all configuration for the CLI
type Config struct {
	Environment string `env:"ENV" envDefault:"production"`

	// Stack layout
	RootDir      string   `env:"STACKCTL_ROOT" envDefault:"."`
	TraefikStack string   `env:"TRAEFIK_STACK" envDefault:"traefik"`
	Networks     []string `env:"STACKCTL_NETWORKS" envSeparator:"," envDefault:"traefik-public"`
	DockerBinary string   `env:"DOCKER_BIN" envDefault:"docker"`

	// Backups
	BackupDir           string `env:"BACKUP_DIR" envDefault:"./backups"`
	BackupRetentionDays int    `env:"BACKUP_RETENTION_DAYS" envDefault:"7"`
	BackupKeep          int    `env:"BACKUP_KEEP" envDefault:"0"`
	BackupSchedule      string `env:"BACKUP_SCHEDULE" envDefault:"0 3 * * *"`
	HealthSchedule      string `env:"HEALTH_SCHEDULE"`
	S3                  S3Config

	// Traefik
	TraefikAPIURL string `env:"TRAEFIK_API_URL" envDefault:"http://localhost:8080"`

	// Waiting and checks
	WaitTimeout        time.Duration `env:"WAIT_TIMEOUT" envDefault:"120s"`
	WaitInterval       time.Duration `env:"WAIT_INTERVAL" envDefault:"5s"`
	ServerIP           string        `env:"SERVER_IP"`
	CertExpiryWarnDays int           `env:"CERT_EXPIRY_WARN_DAYS" envDefault:"14"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE" envDefault:"~/.stackctl/stackctl.log"`

	// Telemetry Configuration
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// S3Config describes the optional offsite copy of database backups.
type S3Config struct {
	Bucket          string `env:"BACKUP_S3_BUCKET"`
	Region          string `env:"BACKUP_S3_REGION" envDefault:"us-east-1"`
	Prefix          string `env:"BACKUP_S3_PREFIX" envDefault:"stackctl"`
	Endpoint        string `env:"BACKUP_S3_ENDPOINT"`
	AccessKeyID     string `env:"BACKUP_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"BACKUP_S3_SECRET_ACCESS_KEY"`
	ForcePathStyle  bool   `env:"BACKUP_S3_FORCE_PATH_STYLE"`
}

// Enabled reports whether a bucket is configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// Load loads the configuration from environment variables and stackctl.env files
func Load() (*Config, error) {
	envLocations := []string{
		"stackctl.env",
	}

	// If ENV is set, try to load that specific file first
	if envName := os.Getenv("ENV"); envName != "" {
		envLocations = append([]string{fmt.Sprintf("stackctl.env.%s", envName)}, envLocations...)
	}
	if explicit := os.Getenv("STACKCTL_ENV_FILE"); explicit != "" {
		envLocations = append([]string{explicit}, envLocations...)
	}

	for _, loc := range envLocations {
		// godotenv.Load never overwrites variables already set in the process
		if err := godotenv.Load(loc); err == nil {
			break
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(cfg)
}

// LoadFrom parses configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stacks root: %w", err)
	}
	cfg.RootDir = root

	if !filepath.IsAbs(cfg.BackupDir) {
		cfg.BackupDir = filepath.Join(root, cfg.BackupDir)
	}

	networks := cfg.Networks[:0]
	for _, n := range cfg.Networks {
		if n = strings.TrimSpace(n); n != "" {
			networks = append(networks, n)
		}
	}
	cfg.Networks = networks

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges the struct tags cannot express.
func (c *Config) Validate() error {
	if c.WaitTimeout <= 0 {
		return logging.WrapError(logging.ErrInvalidConfig, "WAIT_TIMEOUT must be positive")
	}
	if c.WaitInterval <= 0 || c.WaitInterval > c.WaitTimeout {
		return logging.WrapError(logging.ErrInvalidConfig, "WAIT_INTERVAL must be positive and not exceed WAIT_TIMEOUT")
	}
	if c.BackupRetentionDays < 0 || c.BackupKeep < 0 {
		return logging.WrapError(logging.ErrInvalidConfig, "backup retention values must be non-negative")
	}
	if c.CertExpiryWarnDays < 0 {
		return logging.WrapError(logging.ErrInvalidConfig, "CERT_EXPIRY_WARN_DAYS must be non-negative")
	}
	if c.TraefikStack == "" {
		return logging.WrapError(logging.ErrInvalidConfig, "TRAEFIK_STACK must not be empty")
	}
	return nil
}

// StackDir resolves a stack name or path to an absolute directory.
// Names are looked up under RootDir; anything that looks like a path is used as-is.
func (c *Config) StackDir(nameOrPath string) string {
	if filepath.IsAbs(nameOrPath) {
		return filepath.Clean(nameOrPath)
	}
	if strings.ContainsRune(nameOrPath, filepath.Separator) || strings.HasPrefix(nameOrPath, ".") {
		if abs, err := filepath.Abs(nameOrPath); err == nil {
			return abs
		}
	}
	return filepath.Join(c.RootDir, nameOrPath)
}

// StackName returns the project name of a stack directory.
func StackName(dir string) string {
	return filepath.Base(filepath.Clean(dir))
}

// Stacks lists stack directories under RootDir: every child directory holding
// a compose file. The proxy stack sorts first.
func (c *Config) Stacks(isStack func(dir string) bool) ([]string, error) {
	entries, err := os.ReadDir(c.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read stacks root %s: %w", c.RootDir, err)
	}

	var stacks []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(c.RootDir, e.Name())
		if !isStack(dir) {
			continue
		}
		if e.Name() == c.TraefikStack {
			stacks = append([]string{dir}, stacks...)
			continue
		}
		stacks = append(stacks, dir)
	}
	return stacks, nil
}

// LogConfig returns the logging configuration derived from this config.
func (c *Config) LogConfig() *logging.Config {
	return &logging.Config{
		Level:      strings.ToLower(c.LogLevel),
		File:       c.LogFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
}

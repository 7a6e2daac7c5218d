package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa911/stackctl/internal/config"
)

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"deploy"},
		{"down"},
		{"backup"},
		{"backup", "list"},
		{"backup", "prune"},
		{"restore"},
		{"health-check"},
		{"status"},
		{"certs"},
		{"create-networks"},
		{"wait-for-services"},
		{"env", "check"},
		{"env", "init"},
		{"secrets", "generate"},
		{"traefik", "htpasswd"},
		{"schedule"},
		{"schedule", "install"},
		{"schedule", "status"},
		{"config", "show"},
		{"version"},
	} {
		cmd, rest, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Empty(t, rest, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestRedacted(t *testing.T) {
	c, err := config.LoadFrom(map[string]string{
		"BACKUP_S3_BUCKET":            "backups",
		"BACKUP_S3_SECRET_ACCESS_KEY": "s3cr3t",
		"LOG_FILE":                    "",
	})
	require.NoError(t, err)

	shown := redacted(c)
	assert.Equal(t, "********", shown.S3.SecretAccessKey)
	assert.Equal(t, "s3cr3t", c.S3.SecretAccessKey)
	assert.Equal(t, "backups", shown.S3.Bucket)
}

func TestConsoleOutput(t *testing.T) {
	assert.Equal(t, os.Stdout, consoleOutput(statusCmd))
	assert.Equal(t, os.Stdout, consoleOutput(deployCmd), "commands without --output log to stdout")

	require.NoError(t, statusCmd.Flags().Set("output", "json"))
	t.Cleanup(func() { statusCmd.Flags().Set("output", "text") })
	assert.Equal(t, os.Stderr, consoleOutput(statusCmd))
}

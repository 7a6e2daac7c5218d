package logging

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&Config{Level: LevelWarn, NoColor: true, Output: &buf})
	require.NoError(t, err)

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line %d", 1)
	logger.Error("error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] warn line 1")
	assert.Contains(t, out, "[ERROR] error line")
}

func TestLogger_ColorPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&Config{Level: LevelInfo, Output: &buf})
	require.NoError(t, err)

	logger.Success("deployed %s", "app")

	assert.Contains(t, buf.String(), colorGreen+"[INFO]"+colorReset)
	assert.Contains(t, buf.String(), "✅ deployed app")
}

func TestLogger_WritesFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "stackctl.log")
	logger, err := NewLogger(&Config{Level: LevelInfo, File: path, MaxSize: 1, Output: &buf, NoColor: true})
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, logger.Close())

	assert.FileExists(t, path)
	assert.Contains(t, buf.String(), "hello")
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, (&Config{Level: "info"}).Validate())
	assert.Error(t, (&Config{Level: "verbose"}).Validate())
	assert.Error(t, (&Config{Level: "info", File: "x.log", MaxSize: 0}).Validate())
	assert.Error(t, (&Config{Level: "info", MaxAge: -1}).Validate())
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ctx"))

	err := WrapError(ErrInvalidConfig, "WAIT_TIMEOUT must be positive")
	assert.EqualError(t, err, "WAIT_TIMEOUT must be positive: invalid configuration")
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_ConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "warn", Console: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", zap.String("key", "q1"))
	_ = logger.Sync()

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "q1")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	require.Error(t, err)
}

func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "answersync.log")
	logger, _, err := New(Options{Level: "info", File: path, Console: &bytes.Buffer{}})
	require.NoError(t, err)

	logger.Info("answer cached", zap.String("element_id", "q1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"answer cached"`)
	assert.Contains(t, string(data), `"element_id":"q1"`)
}

func TestSetLevel_Runtime(t *testing.T) {
	var buf bytes.Buffer
	logger, level, err := New(Options{Level: "info", Console: &buf})
	require.NoError(t, err)

	logger.Debug("before")
	require.NoError(t, SetLevel(level, "debug"))
	logger.Debug("after")
	_ = logger.Sync()

	assert.Equal(t, zapcore.DebugLevel, level.Level())
	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "after")
}

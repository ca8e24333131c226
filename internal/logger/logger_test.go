package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"crypto-portfolio-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(models.LogConfig{Level: "warn", Output: "console"}, &buf)

	log.Info("hidden")
	log.Warn("shown")
	require.NoError(t, log.Sync())

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewFileOutput(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "bot.log")
	log := New(models.LogConfig{Level: "debug", Output: "file", File: path, MaxSize: 1}, &buf)

	log.Debug("to file")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Contains(t, string(data), "DEBUG")
	assert.Empty(t, buf.String())
}

func TestUnknownOutputFallsBackToConsole(t *testing.T) {
	var buf bytes.Buffer
	log := New(models.LogConfig{Level: "nonsense", Output: "syslog"}, &buf)

	log.Info("fallback")
	assert.Contains(t, buf.String(), "fallback")
}

func TestSBeforeInit(t *testing.T) {
	assert.NotNil(t, S())
}

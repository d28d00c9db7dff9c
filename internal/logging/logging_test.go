package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestNew_LevelParsing(t *testing.T) {
	tests := []struct {
		level   LogLevel
		debugOK bool
	}{
		{LevelDebug, true},
		{LevelInfo, false},
		{LevelWarn, false},
		{LevelError, false},
		{LogLevel("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			logger, err := New(Config{Level: tt.level, Format: FormatText, Output: "stdout"})
			require.NoError(t, err)
			assert.Equal(t, tt.debugOK, logger.Enabled(context.Background(), slog.LevelDebug))
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "echolocate.log")

	logger, err := New(Config{Level: LevelInfo, Format: FormatJSON, Output: path})
	require.NoError(t, err)

	logger.Info("test message", "key", "value")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestLogger_WithComponent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	logger, err := New(Config{Level: LevelInfo, Format: FormatJSON, Output: path})
	require.NoError(t, err)

	logger.WithComponent("monitor").Info("cycle started")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"monitor"`)
}

func TestLogger_ScanHelpers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	logger, err := New(Config{Level: LevelInfo, Format: FormatJSON, Output: path})
	require.NoError(t, err)

	logger.InfoScan("scan completed", "scan-123", "devices", 5)
	logger.ErrorScan("scan failed", "scan-456", errors.New("boom"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"scan_id":"scan-123"`)
	assert.Contains(t, lines[0], `"devices":5`)
	assert.Contains(t, lines[1], `"scan_id":"scan-456"`)
	assert.Contains(t, lines[1], "boom")
}

func TestLogger_MonitorAndDatabaseHelpers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	logger, err := New(Config{Level: LevelInfo, Format: FormatJSON, Output: path})
	require.NoError(t, err)

	logger.InfoMonitor("monitor started", "interval", "60s")
	logger.ErrorMonitor("cycle failed", errors.New("timeout"))
	logger.InfoDatabase("connected", "host", "localhost")
	logger.ErrorDatabase("query failed", errors.New("bad query"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, `"component":"monitor"`)
	assert.Contains(t, out, `"component":"database"`)
	assert.Contains(t, out, "timeout")
	assert.Contains(t, out, "bad query")
}

func TestSetDefault(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	logger, err := New(Config{Level: LevelDebug, Format: FormatText, Output: path})
	require.NoError(t, err)

	SetDefault(logger)
	assert.Equal(t, logger, Default())

	Info("via package function", "k", "v")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "via package function")
}

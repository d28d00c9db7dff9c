package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saagar210/Echolocate/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Daemon.PIDFile = filepath.Join(t.TempDir(), "echolocate.pid")
	cfg.Daemon.WorkDir = ""
	return cfg
}

func TestNewDaemon(t *testing.T) {
	d := New(testConfig(t), "", "test")

	assert.True(t, d.IsRunning())
	assert.False(t, d.IsDebugMode())

	d.cancel()
	assert.False(t, d.IsRunning())
}

func TestCreatePIDFile(t *testing.T) {
	d := New(testConfig(t), "", "test")

	require.NoError(t, d.createPIDFile())

	data, err := os.ReadFile(d.pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestCreatePIDFileRejectsRunningProcess(t *testing.T) {
	d := New(testConfig(t), "", "test")
	require.NoError(t, d.createPIDFile())

	// Second daemon sharing the PID file sees our live process.
	other := New(d.config, "", "test")
	err := other.createPIDFile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestCheckExistingPIDClearsStaleFile(t *testing.T) {
	d := New(testConfig(t), "", "test")

	// A PID far outside the default pid_max cannot be a live process.
	require.NoError(t, os.WriteFile(d.pidFile, []byte("99999999"), 0o600))
	require.NoError(t, d.checkExistingPID())

	_, err := os.Stat(d.pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestCheckExistingPIDClearsGarbageFile(t *testing.T) {
	d := New(testConfig(t), "", "test")

	require.NoError(t, os.WriteFile(d.pidFile, []byte("not-a-pid"), 0o600))
	require.NoError(t, d.checkExistingPID())

	_, err := os.Stat(d.pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupRemovesPIDFile(t *testing.T) {
	d := New(testConfig(t), "", "test")
	require.NoError(t, d.createPIDFile())

	d.cleanup()

	_, err := os.Stat(d.pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestToggleDebugMode(t *testing.T) {
	d := New(testConfig(t), "", "test")

	d.toggleDebugMode()
	assert.True(t, d.IsDebugMode())
	d.toggleDebugMode()
	assert.False(t, d.IsDebugMode())
}

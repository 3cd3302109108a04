package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 1300*time.Microsecond, cfg.Bus.Assert)
	assert.Equal(t, 130*time.Microsecond, cfg.Bus.Settle)
	assert.Equal(t, 100*time.Microsecond, cfg.Bus.Guard)
	assert.Equal(t, 5, cfg.Comms.QueueCapacity)
	assert.Equal(t, 5*time.Second, cfg.Comms.MotionHold)
	assert.Equal(t, 100*time.Millisecond, cfg.Comms.SyncDelay)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gdo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_port: 9090
data_dir: `+dir+`
storage:
  backend: file
comms:
  queue_capacity: 8
`), 0644))

	t.Setenv("GDO_SIM_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, 8, cfg.Comms.QueueCapacity)
	assert.False(t, cfg.Sim.Enabled)
	assert.Equal(t, filepath.Join(dir, "gdo-bridge.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join(dir, "flash"), cfg.FlashDir())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.ServerPort)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = "eeprom"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Comms.QueueCapacity = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Bus.Settle = 0
	assert.Error(t, cfg.Validate())
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 60_000, cfg.Hub.HeartbeatIntervalMs)
	assert.Equal(t, 70_000, cfg.Hub.HeartbeatTimeoutMs)
	assert.Equal(t, 50_000, cfg.Hub.MaxPacketChars)
	assert.Equal(t, 10_240, cfg.Hub.MaxPatchSize)
	assert.Equal(t, 20, cfg.Merge.MaxDepth)
	assert.Equal(t, 100, cfg.Merge.MaxProperties)
	assert.Equal(t, 1000, cfg.Merge.MaxArraySize)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  addr: ":9090"
hub:
  heartbeat_interval_ms: 30000
  heartbeat_timeout_ms: 45000
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	t.Setenv("HEARTBEAT_TIMEOUT", "40000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30_000, cfg.Hub.HeartbeatIntervalMs)
	// env wins over file
	assert.Equal(t, 40_000, cfg.Hub.HeartbeatTimeoutMs)
	// untouched keys keep defaults
	assert.Equal(t, 1_000_000, cfg.Hub.MaxStateSize)
}

func TestLoadRejectsBadTimeouts(t *testing.T) {
	t.Setenv("HEARTBEAT_TIMEOUT", "1000")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat_timeout_ms")
}

func TestLoadMissingFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
}

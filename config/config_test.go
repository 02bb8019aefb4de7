package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)
	require.False(t, cfg.Telemetry.Enabled)
	require.Equal(t, 9464, cfg.Telemetry.PrometheusPort)
	require.Equal(t, 256, cfg.Storage.PoolSize)
	require.Equal(t, 5*time.Second, cfg.Storage.FlushInterval)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logging:
  level: debug
  format: json
storage:
  data_dir: /tmp/sakura
  pool_size: 1024
  flush_interval: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, "/tmp/sakura", cfg.Storage.DataDir)
	require.Equal(t, 1024, cfg.Storage.PoolSize)
	require.Equal(t, 10*time.Second, cfg.Storage.FlushInterval)
	// Untouched sections keep their defaults.
	require.Equal(t, "sakuradb", cfg.Telemetry.ServiceName)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
storage:
  pool_size: -1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default().Storage.PoolSize, cfg.Storage.PoolSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

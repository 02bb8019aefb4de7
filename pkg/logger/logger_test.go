package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewWithDefaults(t *testing.T) {
	log, err := New(Config{Level: "debug", Format: "console", OutputFile: "stderr"})
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

// An unknown level string falls back to info rather than failing startup.
func TestNewBadLevelFallsBack(t *testing.T) {
	log, err := New(Config{Level: "loud", Format: "json", OutputFile: "stdout"})
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zapcore.DebugLevel))
	require.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLogsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.log")
	log, err := New(Config{Level: "info", Format: "json", OutputFile: path})
	require.NoError(t, err)

	log.Info("startup")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "startup")
	require.Contains(t, string(data), "sakuradb")
}

func TestNewUnwritableFile(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "json", OutputFile: filepath.Join(t.TempDir(), "missing", "db.log")})
	require.Error(t, err)
}

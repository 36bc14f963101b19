package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "schedd", cfg.App.Name)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "schedd.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 64, cfg.Scheduler.QueueSize)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, 5, cfg.NATS.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.NATS.ConnectTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Metrics.Interval)
	assert.True(t, cfg.Alerts.Enabled)
	assert.Equal(t, 3, cfg.Alerts.FailureThreshold)
	assert.Equal(t, os.TempDir(), cfg.Handlers.FileCleanupBaseDir)
	assert.Empty(t, cfg.Handlers.DBQueryDSN)
	assert.False(t, cfg.Handlers.ContainerEnabled)
	assert.Equal(t, 30, cfg.History.RetentionDays)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
app:
  log_level: debug
database:
  path: /var/lib/schedd/state.db
scheduler:
  workers: 8
metrics:
  interval: 45s
nats:
  enabled: true
  url: nats://nats.internal:4222
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "/var/lib/schedd/state.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 45*time.Second, cfg.Metrics.Interval)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)

	// Values the file does not mention keep their defaults.
	assert.Equal(t, 64, cfg.Scheduler.QueueSize)
	assert.Equal(t, 3, cfg.Alerts.FailureThreshold)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SCHEDD_SCHEDULER_WORKERS", "7")
	t.Setenv("SCHEDD_DATABASE_PATH", "/tmp/env.db")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Scheduler.Workers)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("app: ["), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

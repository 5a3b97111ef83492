package session_worker_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("ENV_FILE_PATH", filepath.Join(t.TempDir(), "missing.env"))
	p := filepath.Join(t.TempDir(), "session-worker.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
sweeper:
  tick: 30s
outbox:
  workers: 4
`), 0o600))
	t.Setenv("AUDIT_ENABLE", "true")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Tick)
	assert.Equal(t, 4, cfg.Outbox.Workers)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.True(t, cfg.Audit.Enable)
	assert.Equal(t, "studymate.sessions.events", cfg.Kafka.Topic)
	assert.Equal(t, "postgres", cfg.Store)
}

func TestValidate(t *testing.T) {
	t.Setenv("ENV_FILE_PATH", filepath.Join(t.TempDir(), "missing.env"))
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Store = "memory"
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Sweeper.Tick = 0
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Kafka.Brokers = nil
	require.Error(t, bad.Validate())

	bad.Outbox.Enable = false
	bad.Audit.Enable = false
	require.NoError(t, bad.Validate())
}

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

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, 10, cfg.Supervisor.MaxConcurrentWorkers)
	assert.Equal(t, 7, cfg.Supervisor.RetentionDays)
	assert.Equal(t, "tasks.db", cfg.Storage.Path)
	assert.Equal(t, []string{"gather", "fight", "deposit"}, cfg.Supervisor.AllowedWorkers)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_WORKERS", "3")
	t.Setenv("TASK_RETENTION_DAYS", "14")
	t.Setenv("ARTIFACTS_TOKEN", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Supervisor.MaxConcurrentWorkers)
	assert.Equal(t, 14, cfg.Supervisor.RetentionDays)
	assert.Equal(t, "secret", cfg.Game.Token)
}

func TestLoadPrefixedEnvOverrides(t *testing.T) {
	t.Setenv("TASKS_SUPERVISOR_MAX_CONCURRENT_WORKERS", "4")
	t.Setenv("TASKS_NATS_URL", "nats://other-host:4222")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Supervisor.MaxConcurrentWorkers)
	assert.Equal(t, "nats://other-host:4222", cfg.NATS.URL)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("MAX_CONCURRENT_WORKERS=5\n"), 0o644))
	t.Setenv("MAX_CONCURRENT_WORKERS", "")
	os.Unsetenv("MAX_CONCURRENT_WORKERS")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Supervisor.MaxConcurrentWorkers)
}

func TestLoadMissingEnvFile(t *testing.T) {
	_, err := Load("/nonexistent/file.env")
	require.Error(t, err)
}

func TestLoadInvalidEnvValue(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_WORKERS", "not-a-number")
	_, err := Load("")
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
auth:
  cron_secret: cron-secret
  jwt_secret: jwt-secret
vault:
  encryption_key: 0123456789abcdef0123456789abcdef
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout.Std())
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 90, cfg.Sync.BackfillDays)
	assert.Equal(t, 50, cfg.Sync.ChunkSize)
	assert.Equal(t, 15*time.Second, cfg.Sync.ChunkTimeout.Std())
	assert.Equal(t, 100*time.Millisecond, cfg.Sync.ChunkDelay.Std())
	assert.Equal(t, 2*time.Second, cfg.Sync.IntegrationDelay.Std())
	assert.Equal(t, 5*time.Minute, cfg.Vault.RefreshMargin.Std())
	assert.True(t, cfg.Sync.SchedulerEnabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
server:
  port: 9090
  read_timeout: 5s
sync:
  backfill_days: 30
  chunk_size: 25
  chunk_timeout: 3s
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout.Std())
	assert.Equal(t, 30, cfg.Sync.BackfillDays)
	assert.Equal(t, 25, cfg.Sync.ChunkSize)
	assert.Equal(t, 3*time.Second, cfg.Sync.ChunkTimeout.Std())
}

func TestLoadEnvSecrets(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "ffffffffffffffffffffffffffffffff")
	t.Setenv("CRON_SECRET", "env-cron")
	t.Setenv("DATABASE_PASSWORD", "env-db-pass")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "ffffffffffffffffffffffffffffffff", cfg.Vault.EncryptionKey)
	assert.Equal(t, "env-cron", cfg.Auth.CronSecret)
	assert.Equal(t, "env-db-pass", cfg.Database.Password)
}

func TestLoadMissingSecrets(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  port: 8080
`))
	assert.Error(t, err)
}

func TestLoadInvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
sync:
  chunk_timeout: soon
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

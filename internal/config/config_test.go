package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, "secret: s3cret\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(32768), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 2*time.Second, cfg.DeliveryTimeout)
	assert.Equal(t, 168*time.Hour, cfg.TokenTTL)
	assert.Equal(t, time.Duration(0), cfg.QueueDebounce)
	assert.False(t, cfg.DevLogin)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
secret: s3cret
port: 9090
log_level: debug
queue_debounce: 250ms
allowed_origins: ["https://app.example"]
dev_login: true
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.QueueDebounce)
	assert.Equal(t, []string{"https://app.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.DevLogin)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLoadFileEnvWins(t *testing.T) {
	path := writeConfig(t, "secret: from-file\nport: 9090\n")
	t.Setenv("CONCORT_SECRET", "from-env")
	t.Setenv("CONCORT_PORT", "7070")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Secret)
	assert.Equal(t, 7070, cfg.Port)
}

func TestLoadFileMissingSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "secret is required")
}

func TestValidate(t *testing.T) {
	base := Config{Secret: "x", Port: 8080, TokenTTL: time.Hour}
	require.NoError(t, base.Validate())

	bad := base
	bad.Port = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.TokenTTL = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.QueueDebounce = -time.Second
	assert.Error(t, bad.Validate())
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Idempotency.Backend)
	assert.Equal(t, 10000, cfg.Idempotency.Capacity)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL.Duration)
	assert.Equal(t, 30*time.Second, cfg.Idempotency.InFlightTimeout.Duration)
	assert.Equal(t, 15*time.Minute, cfg.Reservation.DefaultTTL.Duration)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/stock")
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("IDEMPOTENCY_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("IDEMPOTENCY_INFLIGHT_TIMEOUT", "45s")
	t.Setenv("RESERVATION_DEFAULT_TTL", "20m")
	t.Setenv("RETRY_MAX_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "redis", cfg.Idempotency.Backend)
	assert.Equal(t, 45*time.Second, cfg.Idempotency.InFlightTimeout.Duration)
	assert.Equal(t, 20*time.Minute, cfg.Reservation.DefaultTTL.Duration)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
}

func TestLoad_TOMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 7000
log_level = "debug"

[database]
driver = "memory"

[reservation]
default_ttl = "5m"
sweep_interval = "30s"
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 5*time.Minute, cfg.Reservation.DefaultTTL.Duration)
	assert.Equal(t, 30*time.Second, cfg.Reservation.SweepInterval.Duration)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url":    {"STORAGE_DRIVER": "postgres", "DATABASE_URL": ""},
		"unknown driver":          {"STORAGE_DRIVER": "mongo"},
		"redis backend no addr":   {"STORAGE_DRIVER": "memory", "IDEMPOTENCY_BACKEND": "redis", "REDIS_ADDR": ""},
		"bad duration":            {"STORAGE_DRIVER": "memory", "IDEMPOTENCY_TTL": "soon"},
		"bad port":                {"STORAGE_DRIVER": "memory", "PORT": "eighty"},
		"non-positive capacity":   {"STORAGE_DRIVER": "memory", "IDEMPOTENCY_CAPACITY": "0"},
		"negative retry attempts": {"STORAGE_DRIVER": "memory", "RETRY_MAX_RETRIES": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

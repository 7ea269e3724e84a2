package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 20, cfg.Auth.TokenExpiryMins)
	assert.Equal(t, 360, cfg.APIKeys.DefaultTTLHours)
	assert.Equal(t, 1024, cfg.APIKeys.UsageQueueSize)
	assert.Equal(t, 2, cfg.APIKeys.UsageWorkers)
	assert.Equal(t, "fixed_window", cfg.RateLimit.Algorithm)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 1000, cfg.RequestLog.BufferSize)
}

func TestLoadFileValuesOverrideDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load(writeConfig(t, `{
		"server": {"port": "9090", "environment": "production"},
		"api_keys": {"default_ttl_hours": 720, "usage_workers": 8},
		"rate_limit": {"enabled": true, "algorithm": "token_bucket", "requests_per_minute": 120}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 720, cfg.APIKeys.DefaultTTLHours)
	assert.Equal(t, 8, cfg.APIKeys.UsageWorkers)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "token_bucket", cfg.RateLimit.Algorithm)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
}

func TestLoadSecretsComeFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("DATABASE_URL", "postgres://env-host/db")
	t.Setenv("REDIS_PASSWORD", "env-password")

	cfg, err := Load(writeConfig(t, `{"database": {"dsn": "postgres://file-host/db"}}`))
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres://env-host/db", cfg.Database.DSN)
	assert.Equal(t, "env-password", cfg.Redis.Password)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load(writeConfig(t, `{}`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	_, err := Load(writeConfig(t, `{not json`))
	assert.Error(t, err)
}

func TestGetRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "localhost", Port: "6379"}
	assert.Equal(t, "localhost:6379", r.GetRedisAddr())
}

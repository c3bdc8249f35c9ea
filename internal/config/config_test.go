package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 3600, cfg.Auth.TokenTTLSeconds)
	assert.Equal(t, 300, cfg.Auth.HMACToleranceSeconds)
	assert.Equal(t, 100, cfg.RateLimit.DefaultLimit)
	assert.Equal(t, 60, cfg.RateLimit.DefaultWindowSeconds)
	assert.Equal(t, float64(10000), cfg.Guard.DefaultTxLimit)
	assert.Equal(t, 0, cfg.Guard.TradeRateLimit, "per-tier trading limits stay in effect by default")
	assert.Equal(t, 1800, cfg.Guard.ActivityWindowSeconds)
	assert.Equal(t, 5, cfg.Guard.HighRiskThreshold)
	assert.Equal(t, 900, cfg.Guard.RecentAuthWindowSeconds)
	assert.Equal(t, 30, cfg.Database.EventRetentionDays)
	assert.False(t, cfg.Lockdown)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRADEGATE_SERVER_PORT", "9090")
	t.Setenv("TRADEGATE_AUTH_JWT_SECRET", "from-env")
	t.Setenv("TRADEGATE_GUARD_HIGH_RISK_THRESHOLD", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 7, cfg.Guard.HighRiskThreshold)
}

// Keys whose default is the zero value must still be reachable by env:
// without a registered default viper never resolves them.
func TestLoadEnvOverridesZeroDefaultKeys(t *testing.T) {
	t.Setenv("TRADEGATE_AUTH_ADMIN_KEY", "break-glass")
	t.Setenv("TRADEGATE_DATABASE_DSN", "postgres://tradegate@localhost/tradegate")
	t.Setenv("TRADEGATE_REDIS_ADDR", "localhost:6380")
	t.Setenv("TRADEGATE_REDIS_PASSWORD", "hunter2")
	t.Setenv("TRADEGATE_REDIS_DB", "3")
	t.Setenv("TRADEGATE_LOCKDOWN", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "break-glass", cfg.Auth.AdminKey)
	assert.Equal(t, "postgres://tradegate@localhost/tradegate", cfg.Database.DSN)
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Lockdown)
}

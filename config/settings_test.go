package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	cfg, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, 10000, cfg.CacheCapacity)
	assert.Equal(t, 10, cfg.MaxConcurrent)
	assert.Equal(t, "@every 30s", cfg.WorkerSchedule)
	assert.Equal(t, 50, cfg.WorkerBatchSize)
	assert.Equal(t, "trigger.db", cfg.StorePath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadSettingsFromEnvironment(t *testing.T) {
	t.Setenv("TRIGGER_CACHE_TTL", "45s")
	t.Setenv("TRIGGER_MAX_CONCURRENT", "3")
	t.Setenv("TRIGGER_REDIS_ADDR", "localhost:6379")

	cfg, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 60*time.Second, cfg.GenerationInterval)
	assert.True(t, cfg.GenerateHistorical)
	assert.Equal(t, 7*24*time.Hour, cfg.HistoricalWindow())
	assert.Equal(t, 30*time.Minute, cfg.HistoricalInterval)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, "postgres", cfg.StorageType)
	assert.Equal(t, 0.02, cfg.SpikeProbability)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, NewConfig().GenerationInterval, cfg.GenerationInterval)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.True(t, cfg.Epoch.IsZero())
	assert.Equal(t, int64(0), cfg.Seed)
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("GENERATION_INTERVAL", "15s")
	t.Setenv("GENERATE_HISTORICAL", "false")
	t.Setenv("HISTORICAL_DAYS", "3")
	t.Setenv("BATCH_SIZE", "250")
	t.Setenv("SEED", "12345")
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("EPOCH", "2024-01-01T00:00:00Z")

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.GenerationInterval)
	assert.False(t, cfg.GenerateHistorical)
	assert.Equal(t, 72*time.Hour, cfg.HistoricalWindow())
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, int64(12345), cfg.Seed)
	assert.Equal(t, "memory", cfg.StorageType)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Epoch)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "generator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: 42\nspike_probability: 0\nlog_format: json\n"), 0o644))

	v := NewViper()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.BatchSize)
	assert.Equal(t, 0.0, cfg.SpikeProbability)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 0.0, cfg.PatternParams().SpikeProbability)
}

func TestMissingConfigFileIsAnError(t *testing.T) {
	assert.Error(t, ReadFile(NewViper(), filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestInvalidSettings(t *testing.T) {
	tests := []struct {
		key   string
		value interface{}
	}{
		{KeyGenerationInterval, "0s"},
		{KeyHistoricalDays, 0},
		{KeyHistoricalInterval, "200h"},
		{KeyBatchSize, -1},
		{KeyStorageType, "sqlite"},
		{KeyNoiseFraction, 1.5},
		{KeyTimezone, "Mars/Olympus_Mons"},
		{KeyEpoch, "yesterday"},
		{KeyLogLevel, "chatty"},
		{KeyLogFormat, "xml"},
		{KeySpikeProbability, 2.0},
		{KeyRetryMaxAttempts, 0},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v := NewViper()
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			require.Error(t, err)

			var ce *ConfigurationError
			assert.True(t, errors.As(err, &ce))
		})
	}
}

func TestDatabaseURLRequiredForSQLStores(t *testing.T) {
	cfg := NewConfig()
	cfg.DatabaseURL = ""
	assert.Error(t, cfg.Validate())

	cfg.StorageType = "memory"
	assert.NoError(t, cfg.Validate())
}

func TestResolveEpoch(t *testing.T) {
	cfg := NewConfig()
	watermark := time.Date(2024, 6, 10, 12, 7, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC), cfg.ResolveEpoch(watermark))

	cfg.Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, cfg.Epoch, cfg.ResolveEpoch(watermark))
}

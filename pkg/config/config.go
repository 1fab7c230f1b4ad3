package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/opscart/k8s-metrics-generator/pkg/pattern"
	"github.com/opscart/k8s-metrics-generator/pkg/retry"
	"github.com/opscart/k8s-metrics-generator/pkg/storage"
)

// Configuration keys. Each is also read from the upper-cased environment
// variable of the same name, e.g. GENERATION_INTERVAL.
const (
	KeyGenerationInterval = "generation_interval"
	KeyGenerateHistorical = "generate_historical"
	KeyHistoricalDays     = "historical_days"
	KeyHistoricalInterval = "historical_interval"
	KeyBatchSize          = "batch_size"
	KeySeed               = "seed"
	KeyStorageType        = "storage_type"
	KeyDatabaseURL        = "database_url"
	KeyMetricsAddr        = "metrics_addr"
	KeyCatalogFile        = "catalog_file"
	KeyEpoch              = "epoch"
	KeyTimezone           = "timezone"
	KeySpikeProbability   = "spike_probability"
	KeySpikeMin           = "spike_min"
	KeySpikeMax           = "spike_max"
	KeyNoiseFraction      = "noise_fraction"
	KeyGrowthRatePerDay   = "growth_rate_per_day"
	KeyMaxGrowth          = "max_growth"
	KeyRetryMaxAttempts   = "retry_max_attempts"
	KeyRetryBaseDelay     = "retry_base_delay"
	KeyRetryMaxDelay      = "retry_max_delay"
	KeyShutdownGrace      = "shutdown_grace"
	KeyBackfillTimeout    = "backfill_timeout"
	KeyLogLevel           = "log_level"
	KeyLogFormat          = "log_format"
)

const defaultDatabaseURL = "host=localhost port=5432 user=metrics password=devpassword dbname=k8s_metrics sslmode=disable"

// ConfigurationError reports a missing or invalid setting. It is fatal.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Reason)
}

func invalid(key, format string, args ...interface{}) error {
	return &ConfigurationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// Config holds application configuration
type Config struct {
	// Generation
	GenerationInterval time.Duration
	GenerateHistorical bool
	HistoricalDays     int
	HistoricalInterval time.Duration
	BatchSize          int
	Seed               int64 // 0 picks a process-unique seed

	// Storage
	StorageType string // postgres, mysql, memory
	DatabaseURL string

	MetricsAddr string
	CatalogFile string

	// Epoch is when simulated growth starts; zero means the backfill start
	Epoch    time.Time
	Location *time.Location

	// Usage model
	SpikeProbability float64
	SpikeMin         float64
	SpikeMax         float64
	NoiseFraction    float64
	GrowthRatePerDay float64
	MaxGrowth        float64

	// Persistence retries
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	ShutdownGrace   time.Duration
	BackfillTimeout time.Duration

	LogLevel  string
	LogFormat string // text, json
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	return &Config{
		GenerationInterval: 60 * time.Second,
		GenerateHistorical: true,
		HistoricalDays:     7,
		HistoricalInterval: 30 * time.Minute,
		BatchSize:          1000,
		StorageType:        storage.TypePostgres,
		DatabaseURL:        defaultDatabaseURL,
		MetricsAddr:        ":8001",
		Location:           time.UTC,
		SpikeProbability:   0.02,
		SpikeMin:           1.5,
		SpikeMax:           3.0,
		NoiseFraction:      0.05,
		GrowthRatePerDay:   0.001,
		MaxGrowth:          1.5,
		RetryMaxAttempts:   5,
		RetryBaseDelay:     500 * time.Millisecond,
		RetryMaxDelay:      10 * time.Second,
		ShutdownGrace:      10 * time.Second,
		BackfillTimeout:    15 * time.Minute,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// NewViper returns a viper instance primed with the defaults and bound to
// the environment
func NewViper() *viper.Viper {
	d := NewConfig()
	v := viper.New()
	v.SetDefault(KeyGenerationInterval, d.GenerationInterval)
	v.SetDefault(KeyGenerateHistorical, d.GenerateHistorical)
	v.SetDefault(KeyHistoricalDays, d.HistoricalDays)
	v.SetDefault(KeyHistoricalInterval, d.HistoricalInterval)
	v.SetDefault(KeyBatchSize, d.BatchSize)
	v.SetDefault(KeySeed, d.Seed)
	v.SetDefault(KeyStorageType, d.StorageType)
	v.SetDefault(KeyDatabaseURL, d.DatabaseURL)
	v.SetDefault(KeyMetricsAddr, d.MetricsAddr)
	v.SetDefault(KeyCatalogFile, "")
	v.SetDefault(KeyEpoch, "")
	v.SetDefault(KeyTimezone, "UTC")
	v.SetDefault(KeySpikeProbability, d.SpikeProbability)
	v.SetDefault(KeySpikeMin, d.SpikeMin)
	v.SetDefault(KeySpikeMax, d.SpikeMax)
	v.SetDefault(KeyNoiseFraction, d.NoiseFraction)
	v.SetDefault(KeyGrowthRatePerDay, d.GrowthRatePerDay)
	v.SetDefault(KeyMaxGrowth, d.MaxGrowth)
	v.SetDefault(KeyRetryMaxAttempts, d.RetryMaxAttempts)
	v.SetDefault(KeyRetryBaseDelay, d.RetryBaseDelay)
	v.SetDefault(KeyRetryMaxDelay, d.RetryMaxDelay)
	v.SetDefault(KeyShutdownGrace, d.ShutdownGrace)
	v.SetDefault(KeyBackfillTimeout, d.BackfillTimeout)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.AutomaticEnv()
	return v
}

// ReadFile merges a YAML config file into v. An empty path looks for
// ~/.metrics-generator.yaml and ignores its absence.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return errors.Wrapf(err, "expanding config path %s", path)
		}
		v.SetConfigFile(expanded)
		return errors.Wrap(v.ReadInConfig(), "reading config file")
	}

	home, err := homedir.Dir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(home)
	v.SetConfigName(".metrics-generator")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return errors.Wrap(err, "reading config file")
	}
	return nil
}

// Load builds a validated Config from v
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		GenerationInterval: v.GetDuration(KeyGenerationInterval),
		GenerateHistorical: v.GetBool(KeyGenerateHistorical),
		HistoricalDays:     v.GetInt(KeyHistoricalDays),
		HistoricalInterval: v.GetDuration(KeyHistoricalInterval),
		BatchSize:          v.GetInt(KeyBatchSize),
		Seed:               v.GetInt64(KeySeed),
		StorageType:        v.GetString(KeyStorageType),
		DatabaseURL:        v.GetString(KeyDatabaseURL),
		MetricsAddr:        v.GetString(KeyMetricsAddr),
		CatalogFile:        v.GetString(KeyCatalogFile),
		SpikeProbability:   v.GetFloat64(KeySpikeProbability),
		SpikeMin:           v.GetFloat64(KeySpikeMin),
		SpikeMax:           v.GetFloat64(KeySpikeMax),
		NoiseFraction:      v.GetFloat64(KeyNoiseFraction),
		GrowthRatePerDay:   v.GetFloat64(KeyGrowthRatePerDay),
		MaxGrowth:          v.GetFloat64(KeyMaxGrowth),
		RetryMaxAttempts:   v.GetInt(KeyRetryMaxAttempts),
		RetryBaseDelay:     v.GetDuration(KeyRetryBaseDelay),
		RetryMaxDelay:      v.GetDuration(KeyRetryMaxDelay),
		ShutdownGrace:      v.GetDuration(KeyShutdownGrace),
		BackfillTimeout:    v.GetDuration(KeyBackfillTimeout),
		LogLevel:           v.GetString(KeyLogLevel),
		LogFormat:          v.GetString(KeyLogFormat),
	}

	loc, err := time.LoadLocation(v.GetString(KeyTimezone))
	if err != nil {
		return nil, invalid(KeyTimezone, "%v", err)
	}
	cfg.Location = loc

	if raw := v.GetString(KeyEpoch); raw != "" {
		epoch, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, invalid(KeyEpoch, "must be RFC3339: %v", err)
		}
		cfg.Epoch = epoch
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.GenerationInterval <= 0 {
		return invalid(KeyGenerationInterval, "must be positive")
	}
	if c.HistoricalDays < 1 {
		return invalid(KeyHistoricalDays, "must be at least 1")
	}
	if c.HistoricalInterval <= 0 || c.HistoricalInterval > c.HistoricalWindow() {
		return invalid(KeyHistoricalInterval, "must be positive and fit in the window")
	}
	if c.BatchSize <= 0 {
		return invalid(KeyBatchSize, "must be positive")
	}
	switch c.StorageType {
	case storage.TypePostgres, storage.TypeMySQL:
		if c.DatabaseURL == "" {
			return invalid(KeyDatabaseURL, "must be set when storage type is %s", c.StorageType)
		}
	case storage.TypeMemory:
	default:
		return invalid(KeyStorageType, "unknown type %q", c.StorageType)
	}
	if c.NoiseFraction < 0 || c.NoiseFraction >= 1 {
		return invalid(KeyNoiseFraction, "must be in [0, 1)")
	}
	if err := c.PatternParams().Validate(); err != nil {
		return invalid("usage model", "%v", err)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return invalid("retry", "%v", err)
	}
	if c.ShutdownGrace <= 0 {
		return invalid(KeyShutdownGrace, "must be positive")
	}
	if c.BackfillTimeout <= 0 {
		return invalid(KeyBackfillTimeout, "must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return invalid(KeyLogLevel, "%v", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return invalid(KeyLogFormat, "must be text or json")
	}
	return nil
}

// HistoricalWindow is the backfill lookback
func (c *Config) HistoricalWindow() time.Duration {
	return time.Duration(c.HistoricalDays) * 24 * time.Hour
}

// PatternParams returns the usage model constants
func (c *Config) PatternParams() pattern.Params {
	p := pattern.DefaultParams()
	p.SpikeProbability = c.SpikeProbability
	p.SpikeMin = c.SpikeMin
	p.SpikeMax = c.SpikeMax
	p.GrowthRatePerDay = c.GrowthRatePerDay
	p.MaxGrowth = c.MaxGrowth
	if c.Location != nil {
		p.Location = c.Location
	}
	return p
}

// RetryPolicy returns the persistence retry policy
func (c *Config) RetryPolicy() retry.Policy {
	return retry.NewPolicy(c.RetryMaxAttempts, c.RetryBaseDelay, c.RetryMaxDelay)
}

// StorageConfig returns the store selection
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Type: c.StorageType,
		URL:  c.DatabaseURL,
	}
}

// ResolveEpoch returns the configured epoch, or the start of the backfill
// window for watermark when none is set
func (c *Config) ResolveEpoch(watermark time.Time) time.Time {
	if !c.Epoch.IsZero() {
		return c.Epoch
	}
	return watermark.Truncate(c.HistoricalInterval).Add(-c.HistoricalWindow())
}

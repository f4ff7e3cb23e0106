package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	// Initialize viper
	m.viper = viper.New()

	// Set config file path
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	// Set environment variable prefix
	m.viper.SetEnvPrefix("TRUSTCORE")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	m.setDefaults()

	// Try to read config file (optional)
	if err := m.viper.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults plus env vars carry a full
		// configuration.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// File not found via viper
		} else if os.IsNotExist(err) {
			// File not found via os
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			// Keep serving the previous config on a broken edit.
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.read_timeout_sec", defaults.Server.ReadTimeoutSec)
	m.viper.SetDefault("server.write_timeout_sec", defaults.Server.WriteTimeoutSec)
	m.viper.SetDefault("server.idle_timeout_sec", defaults.Server.IdleTimeoutSec)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Database defaults
	m.viper.SetDefault("database.path", defaults.Database.Path)

	// Engine defaults
	m.viper.SetDefault("engine.lookback_days", defaults.Engine.LookbackDays)
	m.viper.SetDefault("engine.half_life_days", defaults.Engine.HalfLifeDays)
	m.viper.SetDefault("engine.dampening_floor", defaults.Engine.DampeningFloor)
	m.viper.SetDefault("engine.recent_window", defaults.Engine.RecentWindow)
	m.viper.SetDefault("engine.eligibility_score", defaults.Engine.EligibilityScore)
	m.viper.SetDefault("engine.eligibility_min_signals", defaults.Engine.EligibilityMinSignals)
	m.viper.SetDefault("engine.initial_tier", defaults.Engine.InitialTier)
	m.viper.SetDefault("engine.rubber_stamp_floor_ms", defaults.Engine.RubberStampFloorMS)

	// Promotion defaults
	m.viper.SetDefault("promotion.sweep_interval_min", defaults.Promotion.SweepIntervalMin)
	m.viper.SetDefault("promotion.sweep_parallelism", defaults.Promotion.SweepParallelism)
	m.viper.SetDefault("promotion.sweep_batch_size", defaults.Promotion.SweepBatchSize)
	m.viper.SetDefault("promotion.sweep_min_signals", defaults.Promotion.SweepMinSignals)
	m.viper.SetDefault("promotion.cooldown_hours", defaults.Promotion.CooldownHours)
	m.viper.SetDefault("promotion.demote_on_bad_signal", defaults.Promotion.DemoteOnBadSignal)
	m.viper.SetDefault("promotion.sustained_demotion_enabled", defaults.Promotion.SustainedDemotionEnabled)
	m.viper.SetDefault("promotion.sustained_score_floor", defaults.Promotion.SustainedScoreFloor)
	m.viper.SetDefault("promotion.sustained_min_recent_signals", defaults.Promotion.SustainedMinRecentSignals)

	// Audit defaults
	m.viper.SetDefault("audit.dir", defaults.Audit.Dir)
	m.viper.SetDefault("audit.max_size_mb", defaults.Audit.MaxSizeMB)
	m.viper.SetDefault("audit.max_backups", defaults.Audit.MaxBackups)
	m.viper.SetDefault("audit.max_age_days", defaults.Audit.MaxAgeDays)
	m.viper.SetDefault("audit.compress", defaults.Audit.Compress)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)

	// RateLimit defaults
	m.viper.SetDefault("ratelimit.enabled", defaults.RateLimit.Enabled)
	m.viper.SetDefault("ratelimit.rps", defaults.RateLimit.RPS)
	m.viper.SetDefault("ratelimit.burst", defaults.RateLimit.Burst)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.ReadTimeoutSec = m.viper.GetInt("server.read_timeout_sec")
	cfg.Server.WriteTimeoutSec = m.viper.GetInt("server.write_timeout_sec")
	cfg.Server.IdleTimeoutSec = m.viper.GetInt("server.idle_timeout_sec")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Database
	cfg.Database.Path = m.viper.GetString("database.path")

	// Engine
	cfg.Engine.LookbackDays = m.viper.GetInt("engine.lookback_days")
	cfg.Engine.HalfLifeDays = m.viper.GetFloat64("engine.half_life_days")
	cfg.Engine.DampeningFloor = m.viper.GetInt("engine.dampening_floor")
	cfg.Engine.RecentWindow = m.viper.GetInt("engine.recent_window")
	cfg.Engine.EligibilityScore = m.viper.GetFloat64("engine.eligibility_score")
	cfg.Engine.EligibilityMinSignals = m.viper.GetInt("engine.eligibility_min_signals")
	cfg.Engine.InitialTier = m.viper.GetString("engine.initial_tier")
	cfg.Engine.RubberStampFloorMS = m.viper.GetInt64("engine.rubber_stamp_floor_ms")

	// Promotion
	cfg.Promotion.SweepIntervalMin = m.viper.GetInt("promotion.sweep_interval_min")
	cfg.Promotion.SweepParallelism = m.viper.GetInt("promotion.sweep_parallelism")
	cfg.Promotion.SweepBatchSize = m.viper.GetInt("promotion.sweep_batch_size")
	cfg.Promotion.SweepMinSignals = m.viper.GetInt("promotion.sweep_min_signals")
	cfg.Promotion.CooldownHours = m.viper.GetInt("promotion.cooldown_hours")
	cfg.Promotion.DemoteOnBadSignal = m.viper.GetBool("promotion.demote_on_bad_signal")
	cfg.Promotion.SustainedDemotionEnabled = m.viper.GetBool("promotion.sustained_demotion_enabled")
	cfg.Promotion.SustainedScoreFloor = m.viper.GetFloat64("promotion.sustained_score_floor")
	cfg.Promotion.SustainedMinRecentSignals = m.viper.GetInt("promotion.sustained_min_recent_signals")

	// Catalog (optional; absent key leaves the map empty)
	cfg.Catalog = map[string]CatalogEntry{}
	if m.viper.IsSet("catalog") {
		if err := m.viper.UnmarshalKey("catalog", &cfg.Catalog); err != nil {
			return fmt.Errorf("error unmarshaling catalog: %w", err)
		}
	}

	// Audit
	cfg.Audit.Dir = m.viper.GetString("audit.dir")
	cfg.Audit.MaxSizeMB = m.viper.GetInt("audit.max_size_mb")
	cfg.Audit.MaxBackups = m.viper.GetInt("audit.max_backups")
	cfg.Audit.MaxAgeDays = m.viper.GetInt("audit.max_age_days")
	cfg.Audit.Compress = m.viper.GetBool("audit.compress")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")

	// RateLimit
	cfg.RateLimit.Enabled = m.viper.GetBool("ratelimit.enabled")
	cfg.RateLimit.RPS = m.viper.GetFloat64("ratelimit.rps")
	cfg.RateLimit.Burst = m.viper.GetInt("ratelimit.burst")

	m.config = cfg
	return nil
}

package config

import "context"

// Package config provides configuration management for trustcore.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading for tunable settings
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (TRUSTCORE_* prefix)
//   2. YAML config file (default: /etc/trustcore/trustcore.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - host/port: listen address (default 0.0.0.0:8084)
//      - timeouts: read/write/idle in seconds
//      - allowed_origins: origins permitted for CORS and WebSocket upgrades
//
//   2. Database
//      - path: SQLite database file (":memory:" for ephemeral)
//
//   3. Engine (confidence computation)
//      - lookback_days: rolling signal window (default 90)
//      - half_life_days: decay half-life (default 30)
//      - dampening_floor: signal count for full score weight (default 10)
//      - recent_window: signals in the last-N score (default 30)
//      - eligibility_score / eligibility_min_signals: fast heuristic bounds
//      - initial_tier: tier assigned on a key's first signal
//      - rubber_stamp_floor_ms: default response-time floor for approvals
//
//   4. Promotion
//      - sweep_interval_minutes: periodic sweep cadence
//      - sweep_parallelism / sweep_batch_size / sweep_min_signals
//      - cooldown_hours: installed after any demotion
//      - demote_on_bad_signal: immediate demotion at tier auto
//      - sustained_demotion_* : sweep-time regression check
//
//   5. Catalog
//      - action types with a risk class and an optional per-action
//        rubber_stamp_floor_ms override; empty means the engine's shipped
//        catalog
//
//   6. Audit
//      - dir: directory for rotating audit/app logs
//      - max_size_mb / max_backups / max_age_days / compress
//
//   7. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "console"
//
//   8. RateLimit
//      - enabled, rps, burst: per-client token bucket on the API
//
// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Host            string
		Port            int
		ReadTimeoutSec  int
		WriteTimeoutSec int
		IdleTimeoutSec  int
		// AllowedOrigins is a list of origins permitted for CORS requests and
		// WebSocket connections. Use ["*"] to allow any origin (development
		// only).
		AllowedOrigins []string
	}

	// Database configuration
	Database struct {
		Path string
	}

	// Engine configuration (confidence computation)
	Engine struct {
		LookbackDays          int
		HalfLifeDays          float64
		DampeningFloor        int
		RecentWindow          int
		EligibilityScore      float64
		EligibilityMinSignals int
		InitialTier           string
		RubberStampFloorMS    int64
	}

	// Promotion configuration
	Promotion struct {
		SweepIntervalMin          int
		SweepParallelism          int
		SweepBatchSize            int
		SweepMinSignals           int
		CooldownHours             int
		DemoteOnBadSignal         bool
		SustainedDemotionEnabled  bool
		SustainedScoreFloor       float64
		SustainedMinRecentSignals int
	}

	// Catalog maps action types to risk classes and per-action rubber-stamp
	// floors. Empty means the engine's shipped catalog applies unchanged.
	Catalog map[string]CatalogEntry

	// Audit configuration
	Audit struct {
		Dir        string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// RateLimit configuration
	RateLimit struct {
		Enabled bool
		RPS     float64
		Burst   int
	}
}

// CatalogEntry is one configured action type.
type CatalogEntry struct {
	Risk               string `mapstructure:"risk"`
	RubberStampFloorMS int64  `mapstructure:"rubber_stamp_floor_ms"`
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/trustcore/trustcore.yaml")
}

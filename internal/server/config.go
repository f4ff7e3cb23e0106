package server

import (
	"time"

	"github.com/crewline/trustcore/internal/config"
	"github.com/crewline/trustcore/internal/trust"
)

// Config represents the server configuration: the slice of the application
// config the HTTP layer and component wiring need, flattened for handlers.
type Config struct {
	// Server settings
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`

	// AllowedOrigins is the list of origins permitted for CORS requests and
	// WebSocket upgrades. Use ["*"] to allow all origins (development only).
	AllowedOrigins []string `json:"allowed_origins"`

	// DatabasePath is the path to the SQLite database file. Use ":memory:"
	// for in-memory (non-persistent) storage.
	DatabasePath string `json:"database_path"`

	// Engine holds the trust engine options derived from the engine and
	// promotion config sections.
	Engine trust.Options `json:"-"`

	// SweepInterval is the cadence of the periodic promotion sweep.
	SweepInterval time.Duration `json:"sweep_interval"`

	// Audit settings
	AuditDir        string `json:"audit_dir"`
	AuditMaxSizeMB  int    `json:"audit_max_size_mb"`
	AuditMaxBackups int    `json:"audit_max_backups"`
	AuditMaxAgeDays int    `json:"audit_max_age_days"`
	AuditCompress   bool   `json:"audit_compress"`
	LogLevel        string `json:"log_level"`

	// Rate limiting
	RateLimitEnabled bool    `json:"rate_limit_enabled"`
	RateLimitRPS     float64 `json:"rate_limit_rps"`
	RateLimitBurst   int     `json:"rate_limit_burst"`
}

// FromAppConfig flattens the application config into the server config,
// translating the engine and promotion sections into trust.Options.
func FromAppConfig(cfg *config.Config) *Config {
	return &Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:    time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		DatabasePath:   cfg.Database.Path,
		Engine: trust.Options{
			InitialTier: trust.Tier(cfg.Engine.InitialTier),
			Catalog:     catalogFromConfig(cfg.Catalog),
			Score: trust.ScoreParams{
				LookbackDays:          cfg.Engine.LookbackDays,
				HalfLifeDays:          cfg.Engine.HalfLifeDays,
				DampeningFloor:        cfg.Engine.DampeningFloor,
				RecentWindow:          cfg.Engine.RecentWindow,
				EligibilityScore:      cfg.Engine.EligibilityScore,
				EligibilityMinSignals: cfg.Engine.EligibilityMinSignals,
			},
			RubberStampFloorMS: cfg.Engine.RubberStampFloorMS,
			DemoteOnBadSignal:  cfg.Promotion.DemoteOnBadSignal,
			DemotionCooldown:   time.Duration(cfg.Promotion.CooldownHours) * time.Hour,
			SustainedDemotion: trust.SustainedDemotionParams{
				Enabled:          cfg.Promotion.SustainedDemotionEnabled,
				ScoreFloor:       cfg.Promotion.SustainedScoreFloor,
				MinRecentSignals: cfg.Promotion.SustainedMinRecentSignals,
			},
			SweepParallelism: cfg.Promotion.SweepParallelism,
			SweepBatchSize:   cfg.Promotion.SweepBatchSize,
			SweepMinSignals:  cfg.Promotion.SweepMinSignals,
		},
		SweepInterval:    time.Duration(cfg.Promotion.SweepIntervalMin) * time.Minute,
		AuditDir:         cfg.Audit.Dir,
		AuditMaxSizeMB:   cfg.Audit.MaxSizeMB,
		AuditMaxBackups:  cfg.Audit.MaxBackups,
		AuditMaxAgeDays:  cfg.Audit.MaxAgeDays,
		AuditCompress:    cfg.Audit.Compress,
		LogLevel:         cfg.Logging.Level,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimitRPS:     cfg.RateLimit.RPS,
		RateLimitBurst:   cfg.RateLimit.Burst,
	}
}

// catalogFromConfig merges configured action types over the shipped catalog.
// A configured entry replaces the shipped one wholesale; a zero floor falls
// back to the engine-wide default at lookup time.
func catalogFromConfig(entries map[string]config.CatalogEntry) trust.Catalog {
	catalog := trust.DefaultCatalog()
	for actionType, entry := range entries {
		catalog[actionType] = trust.ActionTypeSpec{
			Risk:               trust.RiskClass(entry.Risk),
			RubberStampFloorMS: entry.RubberStampFloorMS,
		}
	}
	return catalog
}

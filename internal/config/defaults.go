package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8084
	cfg.Server.ReadTimeoutSec = 15
	cfg.Server.WriteTimeoutSec = 15
	cfg.Server.IdleTimeoutSec = 60
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Database defaults
	cfg.Database.Path = "/var/lib/trustcore/trustcore.db"

	// Engine defaults: 90-day lookback, 30-day half-life, full score weight
	// at 10 signals, last-30 recent window.
	cfg.Engine.LookbackDays = 90
	cfg.Engine.HalfLifeDays = 30
	cfg.Engine.DampeningFloor = 10
	cfg.Engine.RecentWindow = 30
	cfg.Engine.EligibilityScore = 0.7
	cfg.Engine.EligibilityMinSignals = 10
	cfg.Engine.InitialTier = "suggest"
	cfg.Engine.RubberStampFloorMS = 2000

	// Promotion defaults
	cfg.Promotion.SweepIntervalMin = 10
	cfg.Promotion.SweepParallelism = 4
	cfg.Promotion.SweepBatchSize = 200
	cfg.Promotion.SweepMinSignals = 5
	cfg.Promotion.CooldownHours = 72
	cfg.Promotion.DemoteOnBadSignal = true
	cfg.Promotion.SustainedDemotionEnabled = true
	cfg.Promotion.SustainedScoreFloor = 0.30
	cfg.Promotion.SustainedMinRecentSignals = 10

	// Catalog default: empty, meaning the engine's shipped action-type
	// catalog applies unchanged.
	cfg.Catalog = map[string]CatalogEntry{}

	// Audit defaults
	cfg.Audit.Dir = "logs"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 10
	cfg.Audit.MaxAgeDays = 30
	cfg.Audit.Compress = true

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	// RateLimit defaults
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RPS = 50
	cfg.RateLimit.Burst = 100

	return cfg
}

package config

import (
	"fmt"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

var validTiers = map[string]bool{
	"disabled": true,
	"suggest":  true,
	"approve":  true,
	"auto":     true,
}

var validRiskClasses = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.ReadTimeoutSec < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.read_timeout_sec",
			Message: fmt.Sprintf("read timeout must be at least 1 second, got %d", c.Server.ReadTimeoutSec),
		})
	}
	if c.Server.WriteTimeoutSec < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.write_timeout_sec",
			Message: fmt.Sprintf("write timeout must be at least 1 second, got %d", c.Server.WriteTimeoutSec),
		})
	}

	// Validate database configuration
	if c.Database.Path == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.path",
			Message: "database path is required (use \":memory:\" for ephemeral storage)",
		})
	}

	// Validate engine configuration
	if c.Engine.LookbackDays < 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine.lookback_days",
			Message: fmt.Sprintf("lookback window must be at least 1 day, got %d", c.Engine.LookbackDays),
		})
	}
	if c.Engine.HalfLifeDays <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "engine.half_life_days",
			Message: fmt.Sprintf("decay half-life must be positive, got %g", c.Engine.HalfLifeDays),
		})
	}
	if c.Engine.DampeningFloor < 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine.dampening_floor",
			Message: fmt.Sprintf("dampening floor must be at least 1 signal, got %d", c.Engine.DampeningFloor),
		})
	}
	if c.Engine.RecentWindow < 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine.recent_window",
			Message: fmt.Sprintf("recent window must be at least 1 signal, got %d", c.Engine.RecentWindow),
		})
	}
	if c.Engine.EligibilityScore <= 0 || c.Engine.EligibilityScore > 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine.eligibility_score",
			Message: fmt.Sprintf("eligibility score must be in (0,1], got %g", c.Engine.EligibilityScore),
		})
	}
	if !validTiers[c.Engine.InitialTier] {
		errs = append(errs, &ValidationError{
			Field:   "engine.initial_tier",
			Message: fmt.Sprintf("invalid tier '%s', must be one of: disabled, suggest, approve, auto", c.Engine.InitialTier),
		})
	}
	if c.Engine.RubberStampFloorMS < 0 {
		errs = append(errs, &ValidationError{
			Field:   "engine.rubber_stamp_floor_ms",
			Message: fmt.Sprintf("rubber stamp floor must not be negative, got %d", c.Engine.RubberStampFloorMS),
		})
	}

	// Validate promotion configuration
	if c.Promotion.SweepIntervalMin < 1 {
		errs = append(errs, &ValidationError{
			Field:   "promotion.sweep_interval_min",
			Message: fmt.Sprintf("sweep interval must be at least 1 minute, got %d", c.Promotion.SweepIntervalMin),
		})
	}
	if c.Promotion.SweepParallelism < 1 {
		errs = append(errs, &ValidationError{
			Field:   "promotion.sweep_parallelism",
			Message: fmt.Sprintf("sweep parallelism must be at least 1, got %d", c.Promotion.SweepParallelism),
		})
	}
	if c.Promotion.SweepBatchSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "promotion.sweep_batch_size",
			Message: fmt.Sprintf("sweep batch size must be at least 1, got %d", c.Promotion.SweepBatchSize),
		})
	}
	if c.Promotion.CooldownHours < 1 {
		errs = append(errs, &ValidationError{
			Field:   "promotion.cooldown_hours",
			Message: fmt.Sprintf("demotion cooldown must be at least 1 hour, got %d", c.Promotion.CooldownHours),
		})
	}
	if c.Promotion.SustainedDemotionEnabled {
		if c.Promotion.SustainedScoreFloor <= 0 || c.Promotion.SustainedScoreFloor >= 1 {
			errs = append(errs, &ValidationError{
				Field:   "promotion.sustained_score_floor",
				Message: fmt.Sprintf("sustained demotion score floor must be in (0,1), got %g", c.Promotion.SustainedScoreFloor),
			})
		}
		if c.Promotion.SustainedMinRecentSignals < 1 {
			errs = append(errs, &ValidationError{
				Field:   "promotion.sustained_min_recent_signals",
				Message: fmt.Sprintf("sustained demotion needs at least 1 recent signal, got %d", c.Promotion.SustainedMinRecentSignals),
			})
		}
	}

	// Validate catalog configuration
	for actionType, entry := range c.Catalog {
		if actionType == "" {
			errs = append(errs, &ValidationError{
				Field:   "catalog",
				Message: "action type must not be empty",
			})
			continue
		}
		if !validRiskClasses[entry.Risk] {
			errs = append(errs, &ValidationError{
				Field:   "catalog." + actionType + ".risk",
				Message: fmt.Sprintf("invalid risk class '%s', must be one of: low, medium, high, critical", entry.Risk),
			})
		}
		if entry.RubberStampFloorMS < 0 {
			errs = append(errs, &ValidationError{
				Field:   "catalog." + actionType + ".rubber_stamp_floor_ms",
				Message: fmt.Sprintf("rubber stamp floor must not be negative, got %d", entry.RubberStampFloorMS),
			})
		}
	}

	// Validate audit configuration
	if c.Audit.Dir == "" {
		errs = append(errs, &ValidationError{
			Field:   "audit.dir",
			Message: "audit log directory is required",
		})
	}
	if c.Audit.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "audit.max_size_mb",
			Message: fmt.Sprintf("rotation size must be at least 1 MB, got %d", c.Audit.MaxSizeMB),
		})
	}

	// Validate logging configuration
	if !validLogLevels[c.Logging.Level] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format '%s', must be 'json' or 'console'", c.Logging.Format),
		})
	}

	// Validate rate limit configuration
	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			errs = append(errs, &ValidationError{
				Field:   "ratelimit.rps",
				Message: fmt.Sprintf("rate limit rps must be positive, got %g", c.RateLimit.RPS),
			})
		}
		if c.RateLimit.Burst < 1 {
			errs = append(errs, &ValidationError{
				Field:   "ratelimit.burst",
				Message: fmt.Sprintf("rate limit burst must be at least 1, got %d", c.RateLimit.Burst),
			})
		}
	}

	return errs
}

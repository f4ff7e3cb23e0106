package main

// Package main is the entry point for the trustcore server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and TRUSTCORE_* environment
//     variables
//   - Build the structured logger from the logging config
//   - Wire the SQLite store, trust engine, audit trail, WebSocket event hub,
//     and periodic promotion sweeper inside one Server
//   - Serve the REST API and the WebSocket event stream
//   - Implement graceful shutdown on SIGINT/SIGTERM
//
// Architecture Flow:
//   1. Action pipeline → POST /api/v1/signals → signal log + synchronous
//      aggregate recompute (one transaction)
//   2. Promotion sweeper (periodic) and POST /api/v1/evaluate (on demand)
//      → threshold policies → tier promotions/demotions
//   3. Tier changes → tier_transitions table, audit log, WebSocket events
//   4. Agents read GET /api/v1/confidence/{user}/{action_type} to decide
//      whether to suggest, require approval, or auto-execute

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/crewline/trustcore/internal/config"
	"github.com/crewline/trustcore/internal/server"
)

func main() {
	configPath := os.Getenv("TRUSTCORE_CONFIG")
	if configPath == "" {
		configPath = "/etc/trustcore/trustcore.yaml"
	}

	ctx := context.Background()

	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config manager: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get(ctx)

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	srv, err := server.NewServer(server.FromAppConfig(cfg), logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	// Log config file edits; restart required for wiring changes.
	go func() {
		for updated := range mgr.Watch(ctx) {
			logger.Info("configuration file changed",
				zap.String("path", configPath),
				zap.Int("server_port", updated.Server.Port),
			)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("received shutdown signal")

	if err := srv.Stop(); err != nil {
		logger.Error("error stopping server", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// buildLogger constructs the service logger from the logging config.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

// Package main is the entry point for the Tiller adaptive parameter engine.
// Tiller continuously recalibrates market-making quote parameters: it
// estimates volatility from exchange price bars, prices bid/ask spreads
// with the Avellaneda-Stoikov model (or a GBM-based optimizer), adapts the
// risk-aversion coefficient, and publishes the resulting parameter sets
// over an HTTP API for the external execution loop to consume.
//
// The application follows clean architecture principles:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Service layer for business logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/tiller/internal/config"
	"github.com/aristath/tiller/internal/di"
	"github.com/aristath/tiller/internal/server"
	"github.com/aristath/tiller/pkg/logger"
)

// main orchestrates the system startup sequence:
// 1. Loads configuration from environment variables (fatal on invalid values)
// 2. Initializes logging
// 3. Wires all dependencies via the DI container
// 4. Starts the HTTP server
// 5. Starts the per-symbol engines and the maintenance scheduler
// 6. Waits for shutdown signal and performs graceful shutdown
func main() {
	// Load configuration first to get log level. Invalid risk factors and
	// probabilities are rejected here, never clamped.
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger with config level. Pretty mode gives human-readable
	// console output for development; production emits JSON lines.
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Strs("symbols", cfg.Symbols).
		Str("mode", cfg.Engine.Mode).
		Msg("Starting Tiller")

	// Wire all dependencies using the DI container. This initializes the
	// history database, the Gate.io clients, the computation components,
	// one refresh engine per symbol and the maintenance jobs.
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// Close the database on exit so the final WAL checkpoint is written
	defer container.HistoryDB.Close()

	// Initialize HTTP server. The API exposes the published parameters,
	// engine status, change history, gamma adaptation state and the SSE
	// event stream.
	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		HistoryDB: container.HistoryDB,
		History:   container.HistoryRepo,
		Manager:   container.Manager,
		Detector:  container.Detector,
		Bus:       container.EventBus,
	})

	// Start server in goroutine so the engines can start concurrently
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Start the engines. This connects the candle stream (when enabled),
	// restores persisted learner state and launches one control loop per
	// symbol. Until the first successful refresh each engine reports
	// not-initialized rather than serving partial parameters.
	if err := container.Manager.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engines")
	}

	// Start maintenance scheduler (history prune, WAL checkpoint, vacuum,
	// daily backup)
	container.Scheduler.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the scheduler first and let running maintenance jobs drain
	container.Scheduler.Stop()

	// Stop the engines. This halts the control loops, disconnects the
	// stream and persists learner state so gamma adaptation resumes where
	// it left off.
	container.Manager.Stop()

	// Graceful shutdown: in-flight API requests get up to 10 seconds
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

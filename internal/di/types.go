/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the server for access to services.
 */
package di

import (
	"github.com/aristath/tiller/internal/clients/gateio"
	"github.com/aristath/tiller/internal/database"
	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
	"github.com/aristath/tiller/internal/market_regime"
	"github.com/aristath/tiller/internal/modules/history"
	"github.com/aristath/tiller/internal/modules/optimal"
	"github.com/aristath/tiller/internal/modules/pricing"
	"github.com/aristath/tiller/internal/modules/volatility"
	"github.com/aristath/tiller/internal/reliability"
	"github.com/aristath/tiller/internal/scheduler"
	"github.com/aristath/tiller/internal/services"
)

/**
 * Container holds all dependencies for the application.
 *
 * This is the single source of truth for all service instances.
 * The container is created by Wire() and handed to the HTTP server.
 *
 * Architecture:
 * - Database: single SQLite history database (parameter changes, learner snapshots)
 * - Clients: Gate.io REST candle client plus optional websocket stream
 * - Computation: volatility estimator, pricing engine, trend detector, optimal calculator
 * - Services: market state store and the per-symbol engine manager
 * - Reliability: local VACUUM INTO backups with optional R2 cloud upload
 * - Scheduler: cron maintenance jobs (prune, WAL checkpoint, vacuum, backup)
 *
 * All dependencies are injected via constructor injection.
 */
type Container struct {
	// Database
	HistoryDB *database.DB // Parameter change history and learner snapshots

	// Clients - External API integrations
	GateClient   *gateio.Client       // Gate.io REST candle client
	CandleStream *gateio.CandleStream // Websocket candle cache (nil when disabled)
	BarProvider  domain.BarProvider   // Stream cache with REST fallback

	// Repositories - Data access layer
	HistoryRepo *history.Repository // Parameter changes and learner state

	// Computation - pure parameter mathematics
	Estimator     *volatility.Estimator   // Rolling log-return volatility
	Detector      *market_regime.Detector // EMA/RSI trend detection
	Calculator    *optimal.Calculator     // GBM optimal parameter derivation
	PricingEngine *pricing.Engine         // Avellaneda-Stoikov quoting

	// Services - Business logic layer
	EventBus     *events.Bus
	MarketStates *services.MarketStateStore // Externally fed inventory and order book state
	Manager      *services.Manager          // Per-symbol engine lifecycle

	// Reliability
	BackupService   *reliability.BackupService   // Local database backups
	R2Client        *reliability.R2Client        // Cloudflare R2 client (optional)
	R2BackupService *reliability.R2BackupService // R2 cloud backup service (optional)

	// Scheduler - background maintenance jobs
	Scheduler *scheduler.Scheduler
}

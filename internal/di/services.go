// Package di provides dependency injection for service initialization.
package di

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/aristath/tiller/internal/clients/gateio"
	"github.com/aristath/tiller/internal/config"
	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
	"github.com/aristath/tiller/internal/market_regime"
	"github.com/aristath/tiller/internal/modules/adaptation"
	"github.com/aristath/tiller/internal/modules/optimal"
	"github.com/aristath/tiller/internal/modules/pricing"
	"github.com/aristath/tiller/internal/modules/refresh"
	"github.com/aristath/tiller/internal/modules/volatility"
	"github.com/aristath/tiller/internal/reliability"
	"github.com/aristath/tiller/internal/services"
	"github.com/rs/zerolog"
)

// InitializeServices creates the clients, computation components and
// per-symbol engines. Must be called after InitializeRepositories.
// Controller construction validates the engine configuration; an invalid
// mode setup fails here rather than on the first refresh.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container.HistoryRepo == nil {
		return fmt.Errorf("repositories not initialized")
	}

	interval, err := domain.ParseInterval(cfg.Engine.VolatilityInterval)
	if err != nil {
		return fmt.Errorf("invalid volatility interval: %w", err)
	}

	// ==========================================
	// STEP 1: Event Bus
	// ==========================================

	container.EventBus = events.NewBus(log)

	// ==========================================
	// STEP 2: Market Data Clients
	// ==========================================

	container.GateClient = gateio.NewClient(log)
	if cfg.Engine.StreamEnabled {
		container.CandleStream = gateio.NewCandleStream(cfg.Symbols, interval, log)
	}
	container.BarProvider = gateio.NewCachedProvider(container.GateClient, container.CandleStream, log)

	// ==========================================
	// STEP 3: Computation Components
	// ==========================================

	container.Estimator = volatility.New(log)
	container.Detector = market_regime.NewDetector(log)
	container.Calculator = optimal.NewCalculator(cfg.Engine.ProfitFactor, log)
	container.PricingEngine = pricing.NewEngine(cfg.Engine.MinSpread, cfg.Engine.OrderShapeEta, container.EventBus, log)

	// ==========================================
	// STEP 4: Market State Store
	// ==========================================

	container.MarketStates = services.NewMarketStateStore(
		container.BarProvider,
		interval,
		cfg.Engine.MarketDefaults(),
		log,
	)

	// ==========================================
	// STEP 5: Engine Manager and Per-Symbol Engines
	// ==========================================

	container.Manager = services.NewManager(container.CandleStream, container.HistoryRepo, container.EventBus, log)

	base := cfg.Engine.GammaState()
	cycle := time.Duration(cfg.Engine.ControlCycleSeconds) * time.Second

	for _, symbol := range cfg.Symbols {
		// Online mode resumes from the persisted learner snapshot when
		// one exists
		var learner *adaptation.Learner
		if base.Mode == domain.ModeOnlineAdaptive {
			learner = services.RestoreLearner(
				container.HistoryRepo,
				symbol,
				base,
				cfg.Engine.LearningRate,
				cfg.Engine.RewardWindow,
				container.EventBus,
				log,
			)
		}

		ctrl, err := refresh.NewController(
			cfg.Engine.ToRefreshConfig(symbol),
			base,
			refresh.Dependencies{
				Provider:   container.BarProvider,
				States:     container.MarketStates,
				Estimator:  container.Estimator,
				Engine:     container.PricingEngine,
				Learner:    learner,
				Detector:   container.Detector,
				Calculator: container.Calculator,
				History:    container.HistoryRepo,
				Bus:        container.EventBus,
			},
			log,
		)
		if err != nil {
			return fmt.Errorf("failed to build refresh controller for %s: %w", symbol, err)
		}

		container.Manager.Register(services.NewEngine(symbol, ctrl, learner, base, cycle, log))
	}

	// ==========================================
	// STEP 6: Backup Services
	// ==========================================

	backupDir := filepath.Join(cfg.DataDir, "backups")
	container.BackupService = reliability.NewBackupService(container.HistoryDB, backupDir, container.EventBus, log)

	// R2 cloud backup is optional - only enabled when all credentials are
	// configured
	if cfg.Backup.R2Configured() {
		r2Client, err := reliability.NewR2Client(
			cfg.Backup.R2AccountID,
			cfg.Backup.R2AccessKeyID,
			cfg.Backup.R2SecretAccessKey,
			cfg.Backup.R2BucketName,
			log,
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize R2 client - R2 backup disabled")
		} else {
			container.R2Client = r2Client
			container.R2BackupService = reliability.NewR2BackupService(
				r2Client,
				container.BackupService,
				cfg.DataDir,
				log,
			)
			log.Info().Msg("R2 cloud backup services initialized")
		}
	} else {
		log.Debug().Msg("R2 credentials not configured - R2 backup disabled")
	}

	return nil
}

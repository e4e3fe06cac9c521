// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/modules/optimal"
	"github.com/aristath/tiller/internal/modules/pricing"
	"github.com/aristath/tiller/internal/modules/refresh"
	"github.com/aristath/tiller/internal/utils"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir              string // Base directory for the history database and backups (always absolute)
	Port                 int
	DevMode              bool
	LogLevel             string
	Symbols              []string // Trading pairs the engine manages, e.g. BTC_USDT
	HistoryRetentionDays int      // Parameter-change rows older than this are pruned (0 = keep forever)
	Engine               *EngineConfig
	Backup               *BackupConfig
}

// EngineConfig holds the per-symbol parameter engine settings. All spreads
// are fractions of mid price.
type EngineConfig struct {
	Mode               string // fixed, online_adaptive, rule_adaptive or auto_optimize
	RiskFactor         float64
	VolatilityInterval string // bar interval for the volatility estimate
	Lookback           int    // number of bars per volatility estimate
	MinSpread          float64
	OrderShapeEta      float64 // bid/ask split of the optimal spread, 0.5 = symmetric

	// Refresh timing
	UpdateIntervalSeconds int
	RetryBackoffSeconds   int
	FetchTimeoutSeconds   int
	HorizonSeconds        int // Avellaneda-Stoikov remaining horizon T
	ControlCycleSeconds   int // engine loop tick, stands in for the execution loop
	StreamEnabled         bool

	// Gamma adaptation
	LearningRate float64
	RewardWindow int
	GammaMin     float64
	GammaMax     float64

	// Position management spreads
	LongProfitTakingSpread  float64
	ShortProfitTakingSpread float64
	StopLossSpread          float64

	// auto_optimize mode
	TargetFillProbability   float64
	StopLossRiskProbability float64
	ProfitFactor            float64
	MaxHoldingTimeDays      float64
	OrderRefreshSeconds     int // resting time of an order before refresh

	// Order book defaults used until an external feed supplies live values
	IntensityAlpha float64
	DepthKappa     float64
}

// BackupConfig holds backup scheduling and R2 cloud storage settings.
// R2 upload is enabled only when all four credential fields are set.
type BackupConfig struct {
	Schedule      string // cron spec with seconds field
	RetentionDays int    // 0 = keep all backups

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
}

// R2Configured reports whether every credential needed for cloud backup
// is present
func (b *BackupConfig) R2Configured() bool {
	return b.R2AccountID != "" && b.R2AccessKeyID != "" &&
		b.R2SecretAccessKey != "" && b.R2BucketName != ""
}

// ToRefreshConfig converts the engine settings into a per-symbol refresh
// controller configuration. Validate must have accepted the config first;
// mode and interval parse errors are ignored here.
func (e *EngineConfig) ToRefreshConfig(symbol string) refresh.Config {
	mode, _ := domain.ParseMode(e.Mode)
	interval, _ := domain.ParseInterval(e.VolatilityInterval)

	return refresh.Config{
		Symbol:          symbol,
		Mode:            mode,
		Interval:        interval,
		Lookback:        e.Lookback,
		RefreshInterval: time.Duration(e.UpdateIntervalSeconds) * time.Second,
		RetryBackoff:    time.Duration(e.RetryBackoffSeconds) * time.Second,
		FetchTimeout:    time.Duration(e.FetchTimeoutSeconds) * time.Second,

		HorizonYears:      refresh.YearsFromDuration(time.Duration(e.HorizonSeconds) * time.Second),
		ProfitTakingLong:  e.LongProfitTakingSpread,
		ProfitTakingShort: e.ShortProfitTakingSpread,
		StopLoss:          e.StopLossSpread,

		TimeToRefreshYears: refresh.YearsFromDuration(time.Duration(e.OrderRefreshSeconds) * time.Second),
		FillProbability:    e.TargetFillProbability,
		RiskProbability:    e.StopLossRiskProbability,
		MaxHoldingYears:    e.MaxHoldingTimeDays / 365,
	}
}

// GammaState builds the initial gamma state. RiskFactor doubles as the
// starting gamma for the adaptive modes.
func (e *EngineConfig) GammaState() domain.GammaState {
	mode, _ := domain.ParseMode(e.Mode)
	return domain.GammaState{
		Current:    e.RiskFactor,
		LowerBound: e.GammaMin,
		UpperBound: e.GammaMax,
		Mode:       mode,
	}
}

// MarketDefaults builds the order-book fallback snapshot for the market
// state store
func (e *EngineConfig) MarketDefaults() domain.MarketState {
	return domain.MarketState{
		IntensityAlpha: e.IntensityAlpha,
		DepthKappa:     e.DepthKappa,
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic
	// 1. Check TILLER_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path
	// 4. Ensure directory exists
	dataDir := getEnv("TILLER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		Port:                 getEnvAsInt("PORT", 8080),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		Symbols:              utils.ParseCSV(getEnv("SYMBOLS", "BTC_USDT")),
		HistoryRetentionDays: getEnvAsInt("HISTORY_RETENTION_DAYS", 90),
		Engine:               loadEngineConfig(),
		Backup:               loadBackupConfig(),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEngineConfig loads engine settings with defaults matching the
// reference strategy
func loadEngineConfig() *EngineConfig {
	return &EngineConfig{
		Mode:               getEnv("ENGINE_MODE", "fixed"),
		RiskFactor:         getEnvAsFloat("RISK_FACTOR", 1.0),
		VolatilityInterval: getEnv("VOLATILITY_INTERVAL", "1m"),
		Lookback:           getEnvAsInt("VOLATILITY_LOOKBACK", 200),
		MinSpread:          getEnvAsFloat("MIN_SPREAD", 0.00005),
		OrderShapeEta:      getEnvAsFloat("ORDER_SHAPE_ETA", 0.5),

		UpdateIntervalSeconds: getEnvAsInt("UPDATE_INTERVAL_SECONDS", 60),
		RetryBackoffSeconds:   getEnvAsInt("RETRY_BACKOFF_SECONDS", 5),
		FetchTimeoutSeconds:   getEnvAsInt("FETCH_TIMEOUT_SECONDS", 10),
		HorizonSeconds:        getEnvAsInt("HORIZON_SECONDS", 3600),
		ControlCycleSeconds:   getEnvAsInt("CONTROL_CYCLE_SECONDS", 1),
		StreamEnabled:         getEnvAsBool("CANDLE_STREAM_ENABLED", true),

		LearningRate: getEnvAsFloat("LEARNING_RATE", 0.01),
		RewardWindow: getEnvAsInt("REWARD_WINDOW", 100),
		GammaMin:     getEnvAsFloat("GAMMA_MIN", 0.001),
		GammaMax:     getEnvAsFloat("GAMMA_MAX", 10.0),

		LongProfitTakingSpread:  getEnvAsFloat("LONG_PROFIT_TAKING_SPREAD", 0.03),
		ShortProfitTakingSpread: getEnvAsFloat("SHORT_PROFIT_TAKING_SPREAD", 0.03),
		StopLossSpread:          getEnvAsFloat("STOP_LOSS_SPREAD", 0.10),

		TargetFillProbability:   getEnvAsFloat("TARGET_FILL_PROBABILITY", 0.25),
		StopLossRiskProbability: getEnvAsFloat("STOP_LOSS_RISK_PROBABILITY", 0.01),
		ProfitFactor:            getEnvAsFloat("PROFIT_FACTOR", 2.5),
		MaxHoldingTimeDays:      getEnvAsFloat("MAX_HOLDING_TIME_DAYS", 1.0),
		OrderRefreshSeconds:     getEnvAsInt("ORDER_REFRESH_SECONDS", 15),

		IntensityAlpha: getEnvAsFloat("ORDER_BOOK_ALPHA", 1.0),
		DepthKappa:     getEnvAsFloat("ORDER_BOOK_KAPPA", 1.5),
	}
}

// loadBackupConfig loads backup settings. R2 credentials default to empty,
// which disables cloud upload.
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Schedule:      getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"), // daily at 03:00
		RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),

		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
	}
}

// Validate checks the configuration. Any error returned here is fatal at
// startup; invalid risk factors and probabilities are rejected rather
// than clamped.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.HistoryRetentionDays < 0 {
		return fmt.Errorf("history retention days must not be negative")
	}

	e := c.Engine
	mode, err := domain.ParseMode(e.Mode)
	if err != nil {
		return fmt.Errorf("invalid engine mode: %w", err)
	}
	if _, err := domain.ParseInterval(e.VolatilityInterval); err != nil {
		return fmt.Errorf("invalid volatility interval: %w", err)
	}
	if e.Lookback < 2 {
		return fmt.Errorf("volatility lookback must be at least 2 bars")
	}
	if e.MinSpread < 0 {
		return fmt.Errorf("min spread must not be negative")
	}
	if e.UpdateIntervalSeconds <= 0 {
		return fmt.Errorf("update interval must be positive")
	}
	if e.ControlCycleSeconds <= 0 {
		return fmt.Errorf("control cycle must be positive")
	}

	if e.RiskFactor <= 0 {
		return fmt.Errorf("%w: %v", pricing.ErrInvalidRiskFactor, e.RiskFactor)
	}
	if e.GammaMin <= 0 || e.GammaMax < e.GammaMin {
		return fmt.Errorf("invalid gamma bounds [%v, %v]", e.GammaMin, e.GammaMax)
	}
	if mode == domain.ModeOnlineAdaptive || mode == domain.ModeRuleAdaptive {
		if e.RiskFactor < e.GammaMin || e.RiskFactor > e.GammaMax {
			return fmt.Errorf("risk factor %v outside gamma bounds [%v, %v]", e.RiskFactor, e.GammaMin, e.GammaMax)
		}
	}
	if mode == domain.ModeOnlineAdaptive {
		if e.LearningRate <= 0 || e.LearningRate > 1 {
			return fmt.Errorf("learning rate must be in (0, 1], got %v", e.LearningRate)
		}
		if e.RewardWindow <= 0 {
			return fmt.Errorf("reward window must be positive")
		}
	}

	if e.TargetFillProbability <= 0 || e.TargetFillProbability >= 1 {
		return fmt.Errorf("%w: target fill probability %v", optimal.ErrInvalidProbability, e.TargetFillProbability)
	}
	if e.StopLossRiskProbability <= 0 || e.StopLossRiskProbability >= 1 {
		return fmt.Errorf("%w: stop loss risk probability %v", optimal.ErrInvalidProbability, e.StopLossRiskProbability)
	}
	if e.ProfitFactor <= 0 {
		return fmt.Errorf("profit factor must be positive")
	}
	if e.MaxHoldingTimeDays <= 0 {
		return fmt.Errorf("max holding time must be positive")
	}
	if e.OrderRefreshSeconds <= 0 {
		return fmt.Errorf("order refresh time must be positive")
	}

	if e.LongProfitTakingSpread <= e.MinSpread {
		return fmt.Errorf("long profit taking spread must exceed min spread")
	}
	if e.ShortProfitTakingSpread <= e.MinSpread {
		return fmt.Errorf("short profit taking spread must exceed min spread")
	}
	if e.StopLossSpread <= 0 {
		return fmt.Errorf("stop loss spread must be positive")
	}

	if e.IntensityAlpha <= 0 {
		return fmt.Errorf("order book alpha must be positive")
	}
	if e.DepthKappa <= 0 {
		return fmt.Errorf("%w: %v", pricing.ErrInvalidOrderBookDepth, e.DepthKappa)
	}

	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup retention days must not be negative")
	}
	if c.Backup.Schedule == "" {
		return fmt.Errorf("backup schedule is required")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

package config

import (
	"testing"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/modules/optimal"
	"github.com/aristath/tiller/internal/modules/pricing"
	"github.com/aristath/tiller/internal/modules/refresh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("TILLER_DATA_DIR", t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadTestConfig(t)

	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"BTC_USDT"}, cfg.Symbols)
	assert.Equal(t, 90, cfg.HistoryRetentionDays)

	assert.Equal(t, "fixed", cfg.Engine.Mode)
	assert.Equal(t, 1.0, cfg.Engine.RiskFactor)
	assert.Equal(t, "1m", cfg.Engine.VolatilityInterval)
	assert.Equal(t, 200, cfg.Engine.Lookback)
	assert.Equal(t, 60, cfg.Engine.UpdateIntervalSeconds)
	assert.Equal(t, 0.25, cfg.Engine.TargetFillProbability)
	assert.Equal(t, 0.01, cfg.Engine.StopLossRiskProbability)
	assert.Equal(t, 2.5, cfg.Engine.ProfitFactor)
	assert.Equal(t, 0.03, cfg.Engine.LongProfitTakingSpread)
	assert.Equal(t, 0.10, cfg.Engine.StopLossSpread)
	assert.True(t, cfg.Engine.StreamEnabled)

	assert.Equal(t, "0 0 3 * * *", cfg.Backup.Schedule)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
	assert.False(t, cfg.Backup.R2Configured())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TILLER_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("SYMBOLS", "BTC_USDT, ETH_USDT,")
	t.Setenv("ENGINE_MODE", "online_adaptive")
	t.Setenv("RISK_FACTOR", "0.5")
	t.Setenv("VOLATILITY_INTERVAL", "5m")
	t.Setenv("LEARNING_RATE", "0.05")
	t.Setenv("CANDLE_STREAM_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"BTC_USDT", "ETH_USDT"}, cfg.Symbols, "symbols should be trimmed with empties dropped")
	assert.Equal(t, "online_adaptive", cfg.Engine.Mode)
	assert.Equal(t, 0.5, cfg.Engine.RiskFactor)
	assert.Equal(t, "5m", cfg.Engine.VolatilityInterval)
	assert.Equal(t, 0.05, cfg.Engine.LearningRate)
	assert.False(t, cfg.Engine.StreamEnabled)
}

func TestLoad_UnparseableValueFallsBack(t *testing.T) {
	t.Setenv("TILLER_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "not-a-number")
	t.Setenv("RISK_FACTOR", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 1.0, cfg.Engine.RiskFactor)
}

func TestLoad_InvalidModeIsFatal(t *testing.T) {
	t.Setenv("TILLER_DATA_DIR", t.TempDir())
	t.Setenv("ENGINE_MODE", "adaptive")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_FatalCases(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*Config)
		wantIs   error
		contains string
	}{
		{
			name:     "no symbols",
			mutate:   func(c *Config) { c.Symbols = nil },
			contains: "at least one symbol",
		},
		{
			name:     "invalid volatility interval",
			mutate:   func(c *Config) { c.Engine.VolatilityInterval = "2m" },
			contains: "volatility interval",
		},
		{
			name:     "lookback below minimum",
			mutate:   func(c *Config) { c.Engine.Lookback = 1 },
			contains: "lookback",
		},
		{
			name:   "zero risk factor",
			mutate: func(c *Config) { c.Engine.RiskFactor = 0 },
			wantIs: pricing.ErrInvalidRiskFactor,
		},
		{
			name:     "inverted gamma bounds",
			mutate:   func(c *Config) { c.Engine.GammaMin = 5.0; c.Engine.GammaMax = 0.5 },
			contains: "gamma bounds",
		},
		{
			name: "risk factor outside bounds in adaptive mode",
			mutate: func(c *Config) {
				c.Engine.Mode = "rule_adaptive"
				c.Engine.RiskFactor = 20.0
			},
			contains: "outside gamma bounds",
		},
		{
			name: "zero learning rate in online mode",
			mutate: func(c *Config) {
				c.Engine.Mode = "online_adaptive"
				c.Engine.LearningRate = 0
			},
			contains: "learning rate",
		},
		{
			name:   "fill probability at one",
			mutate: func(c *Config) { c.Engine.TargetFillProbability = 1.0 },
			wantIs: optimal.ErrInvalidProbability,
		},
		{
			name:   "zero stop loss risk probability",
			mutate: func(c *Config) { c.Engine.StopLossRiskProbability = 0 },
			wantIs: optimal.ErrInvalidProbability,
		},
		{
			name:     "zero profit factor",
			mutate:   func(c *Config) { c.Engine.ProfitFactor = 0 },
			contains: "profit factor",
		},
		{
			name:     "zero update interval",
			mutate:   func(c *Config) { c.Engine.UpdateIntervalSeconds = 0 },
			contains: "update interval",
		},
		{
			name:     "profit taking below min spread",
			mutate:   func(c *Config) { c.Engine.LongProfitTakingSpread = 0.00001 },
			contains: "min spread",
		},
		{
			name:   "zero order book depth",
			mutate: func(c *Config) { c.Engine.DepthKappa = 0 },
			wantIs: pricing.ErrInvalidOrderBookDepth,
		},
		{
			name:     "negative backup retention",
			mutate:   func(c *Config) { c.Backup.RetentionDays = -1 },
			contains: "backup retention",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := loadTestConfig(t)
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			if tc.wantIs != nil {
				assert.ErrorIs(t, err, tc.wantIs)
			}
			if tc.contains != "" {
				assert.Contains(t, err.Error(), tc.contains)
			}
		})
	}
}

func TestEngineConfig_ToRefreshConfig(t *testing.T) {
	cfg := loadTestConfig(t)

	rc := cfg.Engine.ToRefreshConfig("ETH_USDT")

	assert.Equal(t, "ETH_USDT", rc.Symbol)
	assert.Equal(t, domain.ModeFixed, rc.Mode)
	assert.Equal(t, domain.Interval1m, rc.Interval)
	assert.Equal(t, 200, rc.Lookback)
	assert.Equal(t, time.Minute, rc.RefreshInterval)
	assert.Equal(t, 5*time.Second, rc.RetryBackoff)
	assert.Equal(t, 10*time.Second, rc.FetchTimeout)
	assert.InDelta(t, refresh.YearsFromDuration(time.Hour), rc.HorizonYears, 1e-12)
	assert.InDelta(t, refresh.YearsFromDuration(15*time.Second), rc.TimeToRefreshYears, 1e-12)
	assert.InDelta(t, 1.0/365, rc.MaxHoldingYears, 1e-12)
	assert.Equal(t, 0.03, rc.ProfitTakingLong)
	assert.Equal(t, 0.10, rc.StopLoss)
}

func TestEngineConfig_GammaState(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Engine.Mode = "rule_adaptive"

	state := cfg.Engine.GammaState()

	assert.Equal(t, 1.0, state.Current)
	assert.Equal(t, 0.001, state.LowerBound)
	assert.Equal(t, 10.0, state.UpperBound)
	assert.Equal(t, domain.ModeRuleAdaptive, state.Mode)
}

func TestBackupConfig_R2Configured(t *testing.T) {
	b := &BackupConfig{
		R2AccountID:       "acct",
		R2AccessKeyID:     "key",
		R2SecretAccessKey: "secret",
		R2BucketName:      "bucket",
	}
	assert.True(t, b.R2Configured())

	b.R2BucketName = ""
	assert.False(t, b.R2Configured(), "missing bucket should disable R2")
}

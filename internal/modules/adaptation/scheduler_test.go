package adaptation

import (
	"testing"

	"github.com/aristath/tiller/internal/market_regime"
	"github.com/stretchr/testify/assert"
)

func TestScheduleGamma_RuleTable(t *testing.T) {
	tests := []struct {
		name      string
		base      float64
		vol       float64
		inventory float64
		trend     market_regime.Trend
		want      float64
	}{
		{
			name: "neutral conditions keep base",
			base: 1.0, vol: 0.01, inventory: 0.2, trend: market_regime.TrendSideways,
			want: 1.0,
		},
		{
			name: "high volatility raises gamma",
			base: 1.0, vol: 0.03, inventory: 0.2, trend: market_regime.TrendSideways,
			want: 1.2,
		},
		{
			name: "low volatility lowers gamma",
			base: 1.0, vol: 0.001, inventory: 0.2, trend: market_regime.TrendSideways,
			want: 0.8,
		},
		{
			name: "large inventory drift raises gamma",
			base: 1.0, vol: 0.01, inventory: 0.5, trend: market_regime.TrendSideways,
			want: 1.3,
		},
		{
			name: "balanced book lowers gamma",
			base: 1.0, vol: 0.01, inventory: 0.05, trend: market_regime.TrendSideways,
			want: 0.9,
		},
		{
			name: "bullish trend lowers risk aversion",
			base: 1.0, vol: 0.01, inventory: 0.2, trend: market_regime.TrendBullish,
			want: 0.9,
		},
		{
			name: "bearish trend raises risk aversion",
			base: 1.0, vol: 0.01, inventory: 0.2, trend: market_regime.TrendBearish,
			want: 1.1,
		},
		{
			name: "factors compound",
			base: 1.0, vol: 0.03, inventory: 0.5, trend: market_regime.TrendBearish,
			want: 1.2 * 1.3 * 1.1,
		},
		{
			name: "negative drift counts by magnitude",
			base: 1.0, vol: 0.01, inventory: -0.5, trend: market_regime.TrendSideways,
			want: 1.3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScheduleGamma(tt.base, tt.vol, tt.inventory, tt.trend, 0.1, 10.0)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestScheduleGamma_ClampsToBounds(t *testing.T) {
	// 10 * 1.2 * 1.3 * 1.1 would land well above the ceiling.
	got := ScheduleGamma(10.0, 0.05, 0.9, market_regime.TrendBearish, 0.1, 10.0)
	assert.Equal(t, 10.0, got)

	// 0.15 * 0.8 * 0.9 * 0.9 falls through the floor.
	got = ScheduleGamma(0.15, 0.001, 0.0, market_regime.TrendBullish, 0.1, 10.0)
	assert.Equal(t, 0.1, got)
}

func TestScheduleGamma_Deterministic(t *testing.T) {
	a := ScheduleGamma(1.3, 0.015, 0.25, market_regime.TrendBullish, 0.1, 10.0)
	b := ScheduleGamma(1.3, 0.015, 0.25, market_regime.TrendBullish, 0.1, 10.0)
	assert.Equal(t, a, b)
}

package adaptation

import (
	"math"

	"github.com/aristath/tiller/internal/market_regime"
)

// Volatility and inventory rule thresholds for the gamma scheduler.
const (
	highVolatility       = 0.02
	lowVolatility        = 0.005
	largeInventoryDrift  = 0.3
	smallInventoryDrift  = 0.1
	highVolatilityFactor = 1.2
	lowVolatilityFactor  = 0.8
	largeDriftFactor     = 1.3
	smallDriftFactor     = 0.9
	bullishTrendFactor   = 0.9
	bearishTrendFactor   = 1.1
)

// ScheduleGamma derives gamma from market conditions with a fixed rule
// table: high volatility and large inventory drift raise risk aversion,
// calm markets and a balanced book lower it, and a trend tilts it (less
// averse in bullish markets, more in bearish). Stateless and
// deterministic; the result is clamped to [lo, hi].
func ScheduleGamma(base, volatility, inventoryDeviation float64, trend market_regime.Trend, lo, hi float64) float64 {
	gamma := base

	if volatility > highVolatility {
		gamma *= highVolatilityFactor
	} else if volatility < lowVolatility {
		gamma *= lowVolatilityFactor
	}

	drift := math.Abs(inventoryDeviation)
	if drift > largeInventoryDrift {
		gamma *= largeDriftFactor
	} else if drift < smallInventoryDrift {
		gamma *= smallDriftFactor
	}

	switch trend {
	case market_regime.TrendBullish:
		gamma *= bullishTrendFactor
	case market_regime.TrendBearish:
		gamma *= bearishTrendFactor
	}

	if gamma < lo {
		return lo
	}
	if gamma > hi {
		return hi
	}
	return gamma
}

// Package optimal derives quoting spreads from a GBM volatility model,
// targeting fill and risk probabilities instead of adapting gamma.
package optimal

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidProbability is returned when a probability is outside (0,1)
var ErrInvalidProbability = errors.New("probability must be in (0,1)")

// Params are the spreads derived from statistical targets, as fractions
// of mid price. Bid and ask share the base spread; profit taking is
// symmetric for long and short positions.
type Params struct {
	BidSpread               float64 `json:"bid_spread"`
	AskSpread               float64 `json:"ask_spread"`
	LongProfitTakingSpread  float64 `json:"long_profit_taking_spread"`
	ShortProfitTakingSpread float64 `json:"short_profit_taking_spread"`
	StopLossSpread          float64 `json:"stop_loss_spread"`
	ZFill                   float64 `json:"z_fill"`
	ZRisk                   float64 `json:"z_risk"`
}

// Calculator computes optimal quoting parameters under a GBM price model
type Calculator struct {
	profitFactor float64
	log          zerolog.Logger
}

// NewCalculator creates an optimal parameters calculator
func NewCalculator(profitFactor float64, log zerolog.Logger) *Calculator {
	return &Calculator{
		profitFactor: profitFactor,
		log:          log.With().Str("module", "optimal").Logger(),
	}
}

// Compute derives spreads from annualized volatility and time horizons in
// years:
//
//	base   = sigma*sqrt(timeToRefresh)*z(pFill)
//	profit = base*profitFactor
//	stop   = sigma*sqrt(maxHolding)*z(pRisk)
//
// z(p) is the magnitude of the standard normal quantile at p, so
// z(0.75)=z(0.25)~=0.674 and a 1% risk probability maps to a 2.326
// multiple. The result never depends on gamma.
func (c *Calculator) Compute(sigma, timeToRefreshYears, pFill, pRisk, maxHoldingYears float64) (Params, error) {
	zFill, err := quantileMagnitude(pFill)
	if err != nil {
		return Params{}, fmt.Errorf("fill probability: %w", err)
	}
	zRisk, err := quantileMagnitude(pRisk)
	if err != nil {
		return Params{}, fmt.Errorf("risk probability: %w", err)
	}

	base := sigma * math.Sqrt(timeToRefreshYears) * zFill
	profit := base * c.profitFactor
	stop := sigma * math.Sqrt(maxHoldingYears) * zRisk

	params := Params{
		BidSpread:               base,
		AskSpread:               base,
		LongProfitTakingSpread:  profit,
		ShortProfitTakingSpread: profit,
		StopLossSpread:          stop,
		ZFill:                   zFill,
		ZRisk:                   zRisk,
	}

	c.log.Debug().
		Float64("sigma", sigma).
		Float64("base_spread", base).
		Float64("profit_spread", profit).
		Float64("stop_loss_spread", stop).
		Msg("Optimal parameters computed")

	return params, nil
}

func quantileMagnitude(p float64) (float64, error) {
	if p <= 0 || p >= 1 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidProbability, p)
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1}
	return math.Abs(normal.Quantile(p)), nil
}

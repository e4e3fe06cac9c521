// Package volatility estimates close-to-close volatility from OHLC bars.
package volatility

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when fewer than two usable closes are available
var ErrInsufficientData = errors.New("insufficient price data for volatility estimation")

// Estimator computes annualized volatility from price bar history
type Estimator struct {
	log zerolog.Logger
}

// New creates a volatility estimator
func New(log zerolog.Logger) *Estimator {
	return &Estimator{
		log: log.With().Str("module", "volatility").Logger(),
	}
}

// Estimate computes annualized volatility from close-to-close log returns.
//
// Bars must be ordered oldest-first. Bars with non-positive closes are
// skipped; returns are taken between consecutive surviving closes. The
// sample standard deviation of the returns is scaled by sqrt(periods per
// day) for the bar interval, so estimates from different intervals are
// directly comparable.
func (e *Estimator) Estimate(bars []domain.PriceBar, interval domain.Interval) (domain.VolatilityEstimate, error) {
	periods := interval.PeriodsPerDay()
	if periods == 0 {
		return domain.VolatilityEstimate{}, fmt.Errorf("unknown interval %q", interval)
	}
	if len(bars) < 2 {
		return domain.VolatilityEstimate{}, fmt.Errorf("%w: got %d bars, need at least 2", ErrInsufficientData, len(bars))
	}

	closes := make([]float64, 0, len(bars))
	for _, bar := range bars {
		if bar.Close <= 0 {
			e.log.Warn().
				Time("open_time", bar.OpenTime).
				Float64("close", bar.Close).
				Msg("Skipping bar with non-positive close")
			continue
		}
		closes = append(closes, bar.Close)
	}
	if len(closes) < 2 {
		return domain.VolatilityEstimate{}, fmt.Errorf("%w: only %d usable closes after filtering", ErrInsufficientData, len(closes))
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}

	// Sample std needs at least two observations; a single return has no
	// dispersion and reads as zero volatility.
	std := 0.0
	if len(returns) >= 2 {
		std = stat.StdDev(returns, nil)
	}

	estimate := domain.VolatilityEstimate{
		Value:       std * math.Sqrt(float64(periods)),
		Interval:    interval,
		SampleCount: len(returns),
		ComputedAt:  time.Now().UTC(),
	}

	e.log.Debug().
		Str("interval", string(interval)).
		Int("samples", estimate.SampleCount).
		Float64("volatility", estimate.Value).
		Msg("Computed volatility estimate")

	return estimate, nil
}

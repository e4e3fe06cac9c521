package volatility

import (
	"math"
	"testing"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barsFromCloses(closes []float64, interval domain.Interval) []domain.PriceBar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = domain.PriceBar{
			OpenTime: start.Add(time.Duration(i) * interval.Duration()),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
		}
	}
	return bars
}

func TestEstimator_ConstantPricesYieldZero(t *testing.T) {
	est := New(zerolog.Nop())

	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = 50000.0
	}

	result, err := est.Estimate(barsFromCloses(closes, domain.Interval1m), domain.Interval1m)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Value, "constant prices have zero volatility")
	assert.Equal(t, 99, result.SampleCount)
	assert.Equal(t, domain.Interval1m, result.Interval)
}

func TestEstimator_AnnualizationScaling(t *testing.T) {
	est := New(zerolog.Nop())

	// 1440 one-minute closes with alternating +-0.1% log returns: per-bar
	// std is ~0.001, so the daily-scaled value is ~0.001*sqrt(1440).
	closes := make([]float64, 1440)
	closes[0] = 100.0
	for i := 1; i < len(closes); i++ {
		r := 0.001
		if i%2 == 0 {
			r = -0.001
		}
		closes[i] = closes[i-1] * math.Exp(r)
	}

	result, err := est.Estimate(barsFromCloses(closes, domain.Interval1m), domain.Interval1m)
	require.NoError(t, err)
	assert.InDelta(t, 0.03795, result.Value, 0.0005)
	assert.Equal(t, 1439, result.SampleCount)
}

func TestEstimator_IntervalScalingIsComparable(t *testing.T) {
	est := New(zerolog.Nop())

	closes := make([]float64, 200)
	closes[0] = 100.0
	for i := 1; i < len(closes); i++ {
		r := 0.002
		if i%2 == 0 {
			r = -0.002
		}
		closes[i] = closes[i-1] * math.Exp(r)
	}

	oneMin, err := est.Estimate(barsFromCloses(closes, domain.Interval1m), domain.Interval1m)
	require.NoError(t, err)
	oneHour, err := est.Estimate(barsFromCloses(closes, domain.Interval1h), domain.Interval1h)
	require.NoError(t, err)

	// Same per-bar dispersion, different bar lengths: the 1m estimate
	// scales by sqrt(1440) and the 1h estimate by sqrt(24).
	ratio := oneMin.Value / oneHour.Value
	assert.InDelta(t, math.Sqrt(1440.0/24.0), ratio, 1e-9)
}

func TestEstimator_InsufficientBars(t *testing.T) {
	est := New(zerolog.Nop())

	_, err := est.Estimate(nil, domain.Interval1m)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = est.Estimate(barsFromCloses([]float64{100.0}, domain.Interval1m), domain.Interval1m)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEstimator_SingleReturnHasZeroDispersion(t *testing.T) {
	est := New(zerolog.Nop())

	result, err := est.Estimate(barsFromCloses([]float64{100.0, 110.0}, domain.Interval5m), domain.Interval5m)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Value)
	assert.Equal(t, 1, result.SampleCount)
}

func TestEstimator_SkipsNonPositiveCloses(t *testing.T) {
	est := New(zerolog.Nop())

	// The zero and negative closes drop out; returns are taken between
	// the surviving closes.
	closes := []float64{100.0, 0.0, 102.0, -5.0, 101.0, 103.0}
	result, err := est.Estimate(barsFromCloses(closes, domain.Interval1h), domain.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, 3, result.SampleCount)
	assert.Greater(t, result.Value, 0.0)
}

func TestEstimator_AllClosesUnusable(t *testing.T) {
	est := New(zerolog.Nop())

	_, err := est.Estimate(barsFromCloses([]float64{0.0, -1.0, 0.0}, domain.Interval1h), domain.Interval1h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEstimator_UnknownInterval(t *testing.T) {
	est := New(zerolog.Nop())

	_, err := est.Estimate(barsFromCloses([]float64{100.0, 101.0}, "2h"), domain.Interval("2h"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientData)
}

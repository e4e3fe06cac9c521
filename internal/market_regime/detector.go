// Package market_regime classifies recent price action into a broad
// bull/bear/sideways trend used to bias gamma scheduling.
package market_regime

import (
	"math"
	"sync"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
)

// Trend represents the detected market direction
type Trend string

const (
	TrendBullish  Trend = "bullish"
	TrendBearish  Trend = "bearish"
	TrendSideways Trend = "sideways"
)

const (
	emaFastPeriod = 12
	emaSlowPeriod = 26
	rsiPeriod     = 14

	// Signal thresholds. Each signal votes bullish (+1), bearish (-1) or
	// abstains; two agreeing votes decide the trend.
	emaDistanceThreshold = 0.001
	rsiBullishLevel      = 55.0
	rsiBearishLevel      = 45.0
	cumReturnThreshold   = 0.005
)

type cachedTrend struct {
	trend      Trend
	detectedAt time.Time
}

// Detector classifies trend from close prices, caching per symbol
type Detector struct {
	log      zerolog.Logger
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cachedTrend
}

// NewDetector creates a trend detector
func NewDetector(log zerolog.Logger) *Detector {
	return &Detector{
		log:      log.With().Str("component", "trend_detector").Logger(),
		cacheTTL: time.Minute,
		cache:    make(map[string]cachedTrend),
	}
}

// Detect returns the trend for a symbol, recomputing from the given bars
// when the cached classification is stale
func (d *Detector) Detect(symbol string, bars []domain.PriceBar) Trend {
	d.mu.RLock()
	entry, ok := d.cache[symbol]
	d.mu.RUnlock()

	if ok && time.Since(entry.detectedAt) < d.cacheTTL {
		return entry.trend
	}

	closes := make([]float64, 0, len(bars))
	for _, bar := range bars {
		if bar.Close > 0 {
			closes = append(closes, bar.Close)
		}
	}

	trend := Classify(closes)

	d.mu.Lock()
	d.cache[symbol] = cachedTrend{trend: trend, detectedAt: time.Now()}
	d.mu.Unlock()

	d.log.Debug().
		Str("symbol", symbol).
		Str("trend", string(trend)).
		Int("closes", len(closes)).
		Msg("Trend detected")

	return trend
}

// Current returns the cached trend for a symbol without recomputing
func (d *Detector) Current(symbol string) (Trend, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.cache[symbol]
	if !ok {
		return TrendSideways, false
	}
	return entry.trend, true
}

// Classify derives a trend from a close price series using three signals:
// fast/slow EMA distance, RSI level, and cumulative log return over the
// window. Fewer than emaSlowPeriod closes reads as sideways.
func Classify(closes []float64) Trend {
	if len(closes) < emaSlowPeriod || len(closes) < rsiPeriod+1 {
		return TrendSideways
	}

	score := 0

	emaFast := talib.Ema(closes, emaFastPeriod)
	emaSlow := talib.Ema(closes, emaSlowPeriod)
	lastSlow := emaSlow[len(emaSlow)-1]
	if lastSlow > 0 {
		distance := (emaFast[len(emaFast)-1] - lastSlow) / lastSlow
		if distance > emaDistanceThreshold {
			score++
		} else if distance < -emaDistanceThreshold {
			score--
		}
	}

	rsi := talib.Rsi(closes, rsiPeriod)
	lastRSI := rsi[len(rsi)-1]
	if lastRSI > rsiBullishLevel {
		score++
	} else if lastRSI < rsiBearishLevel {
		score--
	}

	first, last := closes[0], closes[len(closes)-1]
	cumReturn := math.Log(last / first)
	if cumReturn > cumReturnThreshold {
		score++
	} else if cumReturn < -cumReturnThreshold {
		score--
	}

	switch {
	case score >= 2:
		return TrendBullish
	case score <= -2:
		return TrendBearish
	default:
		return TrendSideways
	}
}

// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"time"
)

// Interval represents a supported price bar interval
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// periodsPerDay is the fixed annualization lookup for each interval.
var periodsPerDay = map[Interval]int{
	Interval1m:  1440,
	Interval5m:  288,
	Interval15m: 96,
	Interval30m: 48,
	Interval1h:  24,
	Interval4h:  6,
	Interval1d:  1,
}

// ParseInterval validates an interval label
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := periodsPerDay[iv]; !ok {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return iv, nil
}

// PeriodsPerDay returns how many bars of this interval fit in one day
func (i Interval) PeriodsPerDay() int {
	return periodsPerDay[i]
}

// Duration returns the wall-clock length of one bar
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// PriceBar represents a single OHLC candle. Sequences are ordered
// most-recent-last and bars are never mutated once recorded.
type PriceBar struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
}

// VolatilityEstimate is the output of the volatility estimator.
// It is recomputed wholesale each cycle, never mutated in place.
type VolatilityEstimate struct {
	Value       float64   `json:"value"` // annualized, dimensionless
	Interval    Interval  `json:"interval"`
	SampleCount int       `json:"sample_count"`
	ComputedAt  time.Time `json:"computed_at"`
}

// MarketState is a read-only snapshot of market and inventory conditions
// supplied externally for a single pricing computation.
type MarketState struct {
	MidPrice       float64   `json:"mid_price"`
	Inventory      float64   `json:"inventory"` // signed position relative to target
	IntensityAlpha float64   `json:"intensity_alpha"`
	DepthKappa     float64   `json:"depth_kappa"`
	Timestamp      time.Time `json:"timestamp"`
}

// GammaState holds the risk-aversion coefficient and its configured range.
// It is owned exclusively by the active gamma adaptation strategy; the
// pricing engine only ever reads Current.
type GammaState struct {
	Current    float64 `json:"current"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
	Mode       Mode    `json:"mode"`
}

// Clamp returns v bounded to the configured gamma range
func (g GammaState) Clamp(v float64) float64 {
	if v < g.LowerBound {
		return g.LowerBound
	}
	if v > g.UpperBound {
		return g.UpperBound
	}
	return v
}

// LearnerMemory is the accumulated state of the online gamma learner. It
// is owned by the learner, persisted across restarts, and discarded on a
// mode switch.
type LearnerMemory struct {
	LastPnL                float64   `json:"last_pnl" msgpack:"last_pnl"`
	LastInventoryDeviation float64   `json:"last_inventory_deviation" msgpack:"last_inventory_deviation"`
	LastVolatility         float64   `json:"last_volatility" msgpack:"last_volatility"`
	LastSpreadEfficiency   float64   `json:"last_spread_efficiency" msgpack:"last_spread_efficiency"`
	RewardHistory          []float64 `json:"reward_history" msgpack:"reward_history"`
	LastDirection          float64   `json:"last_direction" msgpack:"last_direction"` // +1 or -1
	UpdateCount            int       `json:"update_count" msgpack:"update_count"`
	LastUpdateAt           time.Time `json:"last_update_at" msgpack:"last_update_at"`
}

// QuoteParameters is the published output consumed by the execution loop.
// All spreads are fractions of mid price. Downstream order logic treats a
// published value as immutable until superseded.
type QuoteParameters struct {
	BidSpread               float64   `json:"bid_spread"`
	AskSpread               float64   `json:"ask_spread"`
	ReservationPrice        float64   `json:"reservation_price"`
	ProfitTakingSpreadLong  float64   `json:"profit_taking_spread_long"`
	ProfitTakingSpreadShort float64   `json:"profit_taking_spread_short"`
	StopLossSpread          float64   `json:"stop_loss_spread"`
	GammaUsed               float64   `json:"gamma_used"`
	GammaMode               Mode      `json:"gamma_mode"`
	VolatilityUsed          float64   `json:"volatility_used"`
	GeneratedAt             time.Time `json:"generated_at"`
}

// RefreshSchedule tracks recomputation timing for one controller instance.
// While now - LastUpdate < Interval no recomputation occurs.
type RefreshSchedule struct {
	Interval   time.Duration `json:"interval"`
	LastUpdate time.Time     `json:"last_update"`
}

// Due reports whether a refresh is eligible at the given time
func (s RefreshSchedule) Due(now time.Time) bool {
	return now.Sub(s.LastUpdate) >= s.Interval
}

// Package pricing implements Avellaneda-Stoikov reservation pricing and
// optimal spread computation.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidRiskFactor is returned when gamma is not strictly positive
	ErrInvalidRiskFactor = errors.New("risk factor must be positive")
	// ErrInvalidOrderBookDepth is returned when kappa is not strictly positive
	ErrInvalidOrderBookDepth = errors.New("order book depth must be positive")
)

// Result is the outcome of one pricing computation. Prices are absolute,
// spreads are fractions of mid.
type Result struct {
	ReservationPrice float64 `json:"reservation_price"`
	OptimalSpread    float64 `json:"optimal_spread"` // absolute price units
	Bid              float64 `json:"bid"`
	Ask              float64 `json:"ask"`
	BidSpread        float64 `json:"bid_spread"`
	AskSpread        float64 `json:"ask_spread"`
	Clamped          bool    `json:"clamped"`
}

// Engine computes reservation price and quotes around it.
//
// The reservation price shifts away from mid against inventory:
//
//	r = S - q*gamma*sigma*sqrt(T)
//
// and the optimal total spread is
//
//	delta = gamma*sigma^2*T + (2/gamma)*ln(1 + gamma/kappa)
//
// with S mid price, q inventory deviation from target, T the horizon in
// years. The spread is split around r by the order-amount shape factor
// eta: bid = r - eta*delta, ask = r + (1-eta)*delta. eta=0.5 is the
// symmetric r -/+ delta/2 split.
type Engine struct {
	minSpread float64 // floor on delta as a fraction of mid
	eta       float64
	bus       *events.Bus
	log       zerolog.Logger
}

// NewEngine creates a pricing engine. eta outside (0,1] falls back to the
// symmetric 0.5 split.
func NewEngine(minSpread, eta float64, bus *events.Bus, log zerolog.Logger) *Engine {
	if eta <= 0 || eta > 1 {
		eta = 0.5
	}
	return &Engine{
		minSpread: minSpread,
		eta:       eta,
		bus:       bus,
		log:       log.With().Str("module", "pricing").Logger(),
	}
}

// Quote computes reservation price, optimal spread and bid/ask for the
// given market state. horizonYears is the remaining time horizon T in the
// same annualization basis as sigma. When the model spread falls below the
// configured floor it is clamped and the override is surfaced as a
// SpreadFloorClamped event rather than an error.
func (e *Engine) Quote(state domain.MarketState, gamma, sigma, horizonYears, kappa float64) (Result, error) {
	if gamma <= 0 {
		return Result{}, fmt.Errorf("%w: got %v", ErrInvalidRiskFactor, gamma)
	}
	if kappa <= 0 {
		return Result{}, fmt.Errorf("%w: got %v", ErrInvalidOrderBookDepth, kappa)
	}

	mid := state.MidPrice
	q := state.Inventory

	reservation := mid - q*gamma*sigma*math.Sqrt(horizonYears)
	spread := gamma*sigma*sigma*horizonYears + (2.0/gamma)*math.Log(1.0+gamma/kappa)

	clamped := false
	floor := e.minSpread * mid
	if spread < floor {
		e.log.Info().
			Float64("computed_spread", spread).
			Float64("floor", floor).
			Float64("mid", mid).
			Msg("Optimal spread below configured minimum, clamping")
		e.bus.Emit(events.SpreadFloorClamped, "pricing", map[string]interface{}{
			"computed_spread": spread,
			"floor":           floor,
			"mid_price":       mid,
		})
		spread = floor
		clamped = true
	}

	bid := reservation - e.eta*spread
	ask := reservation + (1.0-e.eta)*spread

	result := Result{
		ReservationPrice: reservation,
		OptimalSpread:    spread,
		Bid:              bid,
		Ask:              ask,
		Clamped:          clamped,
	}
	if mid > 0 {
		result.BidSpread = (mid - bid) / mid
		result.AskSpread = (ask - mid) / mid
	}

	e.log.Debug().
		Float64("mid", mid).
		Float64("inventory", q).
		Float64("gamma", gamma).
		Float64("sigma", sigma).
		Float64("reservation", reservation).
		Float64("spread", spread).
		Bool("clamped", clamped).
		Msg("Quote computed")

	return result, nil
}

package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/tiller/internal/domain"
	"github.com/rs/zerolog"
)

// MarketStateStore holds the per-symbol market snapshot and realized PnL
// consumed by the refresh controllers. Both are owned by the external
// execution layer: an embedding executor feeds them through SetState and
// AddRealizedPnL. Symbols that were never fed fall back to the configured
// order-book defaults with the mid price taken from the latest bar.
type MarketStateStore struct {
	provider domain.BarProvider
	interval domain.Interval
	defaults domain.MarketState
	log      zerolog.Logger

	mu     sync.RWMutex
	states map[string]domain.MarketState
	pnl    map[string]float64
}

// NewMarketStateStore creates a market state store. The defaults supply
// the order-book intensity and depth used until an external feed takes
// over; the provider supplies the fallback mid price.
func NewMarketStateStore(provider domain.BarProvider, interval domain.Interval, defaults domain.MarketState, log zerolog.Logger) *MarketStateStore {
	return &MarketStateStore{
		provider: provider,
		interval: interval,
		defaults: defaults,
		log:      log.With().Str("service", "market_state").Logger(),
		states:   make(map[string]domain.MarketState),
		pnl:      make(map[string]float64),
	}
}

// SetState replaces the stored snapshot for a symbol
func (s *MarketStateStore) SetState(symbol string, state domain.MarketState) {
	s.mu.Lock()
	s.states[symbol] = state
	s.mu.Unlock()
}

// AddRealizedPnL accumulates realized PnL for a symbol
func (s *MarketStateStore) AddRealizedPnL(symbol string, delta float64) {
	s.mu.Lock()
	s.pnl[symbol] += delta
	s.mu.Unlock()
}

// RealizedPnL returns the cumulative realized PnL recorded for a symbol
func (s *MarketStateStore) RealizedPnL(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pnl[symbol]
}

// MarketState returns the current snapshot for a symbol. Zero intensity
// or depth fields inherit the configured defaults, and a missing mid
// price is resolved from the most recent close so a controller can run
// before any external feed is attached.
func (s *MarketStateStore) MarketState(ctx context.Context, symbol string) (domain.MarketState, error) {
	s.mu.RLock()
	snapshot, ok := s.states[symbol]
	s.mu.RUnlock()

	if !ok {
		snapshot = s.defaults
	}
	if snapshot.IntensityAlpha <= 0 {
		snapshot.IntensityAlpha = s.defaults.IntensityAlpha
	}
	if snapshot.DepthKappa <= 0 {
		snapshot.DepthKappa = s.defaults.DepthKappa
	}

	if snapshot.MidPrice <= 0 {
		bars, err := s.provider.GetPriceBars(ctx, symbol, s.interval, 2)
		if err != nil {
			return domain.MarketState{}, fmt.Errorf("resolving mid price: %w", err)
		}
		if len(bars) == 0 {
			return domain.MarketState{}, fmt.Errorf("resolving mid price: no bars for %s", symbol)
		}
		last := bars[len(bars)-1]
		snapshot.MidPrice = last.Close
		snapshot.Timestamp = last.OpenTime
		s.log.Debug().
			Str("symbol", symbol).
			Float64("mid", snapshot.MidPrice).
			Msg("Mid price resolved from latest bar")
	}

	return snapshot, nil
}

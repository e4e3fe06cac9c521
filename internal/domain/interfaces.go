package domain

import "context"

// BarProvider supplies historical price bars for volatility estimation.
// Implementations may be network-bound: calls can time out or return fewer
// bars than requested, and callers must bound them with a context deadline.
type BarProvider interface {
	// GetPriceBars returns up to lookback bars for the symbol at the given
	// interval, ordered most-recent-last
	GetPriceBars(ctx context.Context, symbol string, interval Interval, lookback int) ([]PriceBar, error)
}

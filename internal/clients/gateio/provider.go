package gateio

import (
	"context"

	"github.com/aristath/tiller/internal/domain"
	"github.com/rs/zerolog"
)

// CachedProvider serves price bars from the websocket cache when it holds
// enough fresh data, falling back to the REST client otherwise. The stream
// is optional; with a nil stream every call goes to REST.
type CachedProvider struct {
	rest   *Client
	stream *CandleStream
	log    zerolog.Logger
}

// NewCachedProvider creates a provider backed by the REST client and an
// optional live stream
func NewCachedProvider(rest *Client, stream *CandleStream, log zerolog.Logger) *CachedProvider {
	return &CachedProvider{
		rest:   rest,
		stream: stream,
		log:    log.With().Str("component", "bar_provider").Logger(),
	}
}

// GetPriceBars returns up to lookback bars for the symbol, oldest first.
// The stream cache is used only when it covers the requested interval and
// window and has updated recently.
func (p *CachedProvider) GetPriceBars(ctx context.Context, symbol string, interval domain.Interval, lookback int) ([]domain.PriceBar, error) {
	if lookback <= 0 {
		lookback = defaultLookback
	}

	if p.stream != nil && p.stream.Interval() == interval && !p.stream.IsCacheStale() {
		bars := p.stream.Bars(symbol)
		if len(bars) >= lookback {
			p.log.Debug().
				Str("symbol", symbol).
				Int("bars", lookback).
				Msg("Serving bars from stream cache")
			return bars[len(bars)-lookback:], nil
		}
	}

	return p.rest.GetPriceBars(ctx, symbol, interval, lookback)
}

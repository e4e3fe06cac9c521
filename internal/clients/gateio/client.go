// Package gateio provides market data clients for the Gate.io exchange:
// a REST candlestick client and a websocket stream that keeps a live bar
// cache per symbol.
package gateio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL  = "https://api.gateio.ws/api/v4"
	defaultLookback = 720
	maxLookback     = 1000
)

var (
	// ErrProvider marks any market data fetch failure other than a timeout
	ErrProvider = errors.New("market data provider failed")
	// ErrProviderTimeout marks a fetch abandoned at its context deadline
	ErrProviderTimeout = errors.New("market data provider timed out")
)

// Client fetches historical candlesticks from the Gate.io spot REST API.
// It implements domain.BarProvider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Gate.io REST client
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("client", "gateio").Logger(),
	}
}

// GetPriceBars fetches up to lookback candlesticks for the symbol at the
// given interval, ordered most-recent-last. A non-positive lookback uses
// the default window; lookback is capped at the API maximum.
func (c *Client) GetPriceBars(ctx context.Context, symbol string, interval domain.Interval, lookback int) ([]domain.PriceBar, error) {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	if lookback > maxLookback {
		lookback = maxLookback
	}

	params := url.Values{}
	params.Set("currency_pair", strings.ToUpper(symbol))
	params.Set("interval", string(interval))
	params.Set("limit", strconv.Itoa(lookback))

	reqURL := c.baseURL + "/spot/candlesticks?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrProvider, err)
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("interval", string(interval)).
		Int("lookback", lookback).
		Msg("Fetching candlesticks")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrProviderTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, string(body))
	}

	// Row layout: [timestamp, volume_quote, close, high, low, open, volume_base, closed]
	var rows [][]string
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrProvider, err)
	}

	bars := make([]domain.PriceBar, 0, len(rows))
	for _, row := range rows {
		bar, err := parseCandleRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProvider, err)
		}
		bars = append(bars, bar)
	}

	// The API usually returns newest-first; callers need oldest-first
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].OpenTime.Before(bars[j].OpenTime)
	})

	c.log.Debug().
		Str("symbol", symbol).
		Int("bars", len(bars)).
		Msg("Fetched candlesticks")

	return bars, nil
}

func parseCandleRow(row []string) (domain.PriceBar, error) {
	if len(row) < 6 {
		return domain.PriceBar{}, fmt.Errorf("candlestick row has %d fields, want at least 6", len(row))
	}

	ts, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("parsing timestamp %q: %v", row[0], err)
	}

	closePrice, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("parsing close %q: %v", row[2], err)
	}
	high, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("parsing high %q: %v", row[3], err)
	}
	low, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("parsing low %q: %v", row[4], err)
	}
	open, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("parsing open %q: %v", row[5], err)
	}

	return domain.PriceBar{
		OpenTime: time.Unix(int64(ts), 0).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
	}, nil
}

// isTimeout reports whether an HTTP client error was a deadline or
// transport timeout
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

package gateio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream(t *testing.T) *CandleStream {
	t.Helper()
	return NewCandleStream([]string{"BTC_USDT"}, domain.Interval1m, zerolog.Nop())
}

func candleUpdateFrame(t *testing.T, name string, ts int64, o, h, l, c float64) []byte {
	t.Helper()
	msg := map[string]interface{}{
		"time":    ts,
		"channel": "spot.candlesticks",
		"event":   "update",
		"result": map[string]string{
			"t": fmt.Sprintf("%d", ts),
			"o": fmt.Sprintf("%g", o),
			"h": fmt.Sprintf("%g", h),
			"l": fmt.Sprintf("%g", l),
			"c": fmt.Sprintf("%g", c),
			"n": name,
		},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestHandleMessage_UpdateAppendsBar(t *testing.T) {
	s := newTestStream(t)

	err := s.handleMessage(candleUpdateFrame(t, "1m_BTC_USDT", 1700000000, 100, 101, 99, 100.5))
	require.NoError(t, err)

	bars := s.Bars("BTC_USDT")
	require.Len(t, bars, 1)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), bars[0].OpenTime)
	assert.InDelta(t, 100.0, bars[0].Open, 1e-12)
	assert.InDelta(t, 101.0, bars[0].High, 1e-12)
	assert.InDelta(t, 99.0, bars[0].Low, 1e-12)
	assert.InDelta(t, 100.5, bars[0].Close, 1e-12)
	assert.False(t, s.LastUpdate().IsZero())
}

func TestHandleMessage_SameOpenTimeReplacesBar(t *testing.T) {
	s := newTestStream(t)

	require.NoError(t, s.handleMessage(candleUpdateFrame(t, "1m_BTC_USDT", 1700000000, 100, 101, 99, 100.5)))
	// In-progress candle pushes again with a newer close
	require.NoError(t, s.handleMessage(candleUpdateFrame(t, "1m_BTC_USDT", 1700000000, 100, 102, 99, 101.8)))

	bars := s.Bars("BTC_USDT")
	require.Len(t, bars, 1, "same open time should replace, not append")
	assert.InDelta(t, 101.8, bars[0].Close, 1e-12)
	assert.InDelta(t, 102.0, bars[0].High, 1e-12)
}

func TestHandleMessage_SeriesGrowsInOrder(t *testing.T) {
	s := newTestStream(t)

	for i := int64(0); i < 5; i++ {
		ts := 1700000000 + i*60
		require.NoError(t, s.handleMessage(candleUpdateFrame(t, "1m_BTC_USDT", ts, 100, 101, 99, 100)))
	}

	bars := s.Bars("BTC_USDT")
	require.Len(t, bars, 5)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i-1].OpenTime.Before(bars[i].OpenTime), "series should stay oldest-first")
	}
}

func TestHandleMessage_CacheIsBounded(t *testing.T) {
	s := newTestStream(t)

	for i := int64(0); i < maxCachedBars+25; i++ {
		ts := 1700000000 + i*60
		require.NoError(t, s.handleMessage(candleUpdateFrame(t, "1m_BTC_USDT", ts, 100, 101, 99, 100)))
	}

	bars := s.Bars("BTC_USDT")
	assert.Len(t, bars, maxCachedBars)
	// Oldest entries are the ones dropped
	assert.Equal(t, time.Unix(1700000000+25*60, 0).UTC(), bars[0].OpenTime)
}

func TestHandleMessage_IgnoresOtherIntervalAndChannel(t *testing.T) {
	s := newTestStream(t)

	require.NoError(t, s.handleMessage(candleUpdateFrame(t, "5m_BTC_USDT", 1700000000, 100, 101, 99, 100)))
	assert.Empty(t, s.Bars("BTC_USDT"), "other-interval candles should be ignored")

	require.NoError(t, s.handleMessage([]byte(`{"time":1,"channel":"spot.tickers","event":"update","result":{}}`)))
	assert.Empty(t, s.Bars("BTC_USDT"))
}

func TestHandleMessage_SubscribeAck(t *testing.T) {
	s := newTestStream(t)

	ok := []byte(`{"time":1,"channel":"spot.candlesticks","event":"subscribe","result":{"status":"success"}}`)
	require.NoError(t, s.handleMessage(ok))

	rejected := []byte(`{"time":1,"channel":"spot.candlesticks","event":"subscribe","error":{"code":2,"message":"unknown currency pair"}}`)
	err := s.handleMessage(rejected)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown currency pair")
}

func TestHandleMessage_MalformedCandle(t *testing.T) {
	s := newTestStream(t)

	err := s.handleMessage(candleUpdateFrame(t, "no-separator", 1700000000, 100, 101, 99, 100))
	require.Error(t, err)

	bad := []byte(`{"time":1,"channel":"spot.candlesticks","event":"update","result":{"t":"x","o":"1","h":"1","l":"1","c":"1","n":"1m_BTC_USDT"}}`)
	err = s.handleMessage(bad)
	require.Error(t, err)
	assert.Empty(t, s.Bars("BTC_USDT"))
}

func TestBars_ReturnsCopy(t *testing.T) {
	s := newTestStream(t)
	require.NoError(t, s.handleMessage(candleUpdateFrame(t, "1m_BTC_USDT", 1700000000, 100, 101, 99, 100)))

	bars := s.Bars("BTC_USDT")
	bars[0].Close = -1

	again := s.Bars("BTC_USDT")
	assert.InDelta(t, 100.0, again[0].Close, 1e-12, "mutating the returned slice must not touch the cache")
}

func TestIsCacheStale(t *testing.T) {
	s := newTestStream(t)
	assert.True(t, s.IsCacheStale(), "empty cache is stale")

	require.NoError(t, s.handleMessage(candleUpdateFrame(t, "1m_BTC_USDT", 1700000000, 100, 101, 99, 100)))
	assert.False(t, s.IsCacheStale())
}

func TestCalculateBackoff_GrowsAndCaps(t *testing.T) {
	s := newTestStream(t)

	assert.Equal(t, baseReconnectDelay, s.calculateBackoff(1))
	assert.Equal(t, 2*baseReconnectDelay, s.calculateBackoff(2))
	assert.Equal(t, maxReconnectDelay, s.calculateBackoff(20), "backoff should cap at the maximum delay")
}

func TestCachedProvider_ServesFromFreshCache(t *testing.T) {
	restCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		restCalled = true
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	rest := NewClient(zerolog.Nop())
	rest.baseURL = server.URL

	stream := newTestStream(t)
	for i := int64(0); i < 10; i++ {
		ts := 1700000000 + i*60
		require.NoError(t, stream.handleMessage(candleUpdateFrame(t, "1m_BTC_USDT", ts, 100, 101, 99, 100)))
	}

	provider := NewCachedProvider(rest, stream, zerolog.Nop())

	bars, err := provider.GetPriceBars(context.Background(), "BTC_USDT", domain.Interval1m, 5)
	require.NoError(t, err)
	require.Len(t, bars, 5)
	assert.False(t, restCalled, "a fresh cache with enough bars should not hit REST")
	assert.Equal(t, time.Unix(1700000000+5*60, 0).UTC(), bars[0].OpenTime, "cache should serve the most recent window")
}

func TestCachedProvider_FallsBackToREST(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	restBars := []domain.PriceBar{
		{OpenTime: base, Open: 1, High: 1, Low: 1, Close: 1},
		{OpenTime: base.Add(time.Minute), Open: 1, High: 1, Low: 1, Close: 1},
	}

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(candleRows(restBars))
	}))
	defer server.Close()

	rest := NewClient(zerolog.Nop())
	rest.baseURL = server.URL

	// Cache holds fewer bars than requested
	stream := newTestStream(t)
	require.NoError(t, stream.handleMessage(candleUpdateFrame(t, "1m_BTC_USDT", 1700000000, 100, 101, 99, 100)))

	provider := NewCachedProvider(rest, stream, zerolog.Nop())

	bars, err := provider.GetPriceBars(context.Background(), "BTC_USDT", domain.Interval1m, 5)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, 1, calls, "thin cache should fall back to REST")

	// Interval mismatch also falls back
	_, err = provider.GetPriceBars(context.Background(), "BTC_USDT", domain.Interval1h, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCachedProvider_NilStreamUsesREST(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	rest := NewClient(zerolog.Nop())
	rest.baseURL = server.URL

	provider := NewCachedProvider(rest, nil, zerolog.Nop())

	_, err := provider.GetPriceBars(context.Background(), "BTC_USDT", domain.Interval1m, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

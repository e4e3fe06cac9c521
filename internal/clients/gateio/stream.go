package gateio

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	defaultStreamURL = "wss://api.gateio.ws/ws/v4/"

	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	candlesticksChannel = "spot.candlesticks"

	// cache bound per symbol, enough for the largest supported lookback
	maxCachedBars = 1440
)

// wsRequest is a client frame on the Gate.io v4 websocket
type wsRequest struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload"`
}

// wsMessage is a server frame on the Gate.io v4 websocket
type wsMessage struct {
	Time    int64           `json:"time"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Error   *wsError        `json:"error"`
	Result  json.RawMessage `json:"result"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wsCandle is a single candlestick update. N carries "<interval>_<symbol>".
type wsCandle struct {
	T string `json:"t"`
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
	N string `json:"n"`
}

// CandleStream maintains a live per-symbol candlestick cache fed by the
// Gate.io websocket, with automatic reconnection
type CandleStream struct {
	// Connection
	url        string
	httpClient *http.Client
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	// Subscription
	symbols  []string
	interval domain.Interval

	log zerolog.Logger

	// State
	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	// Cache (thread-safe)
	bars       map[string][]domain.PriceBar
	lastUpdate time.Time
	cacheMu    sync.RWMutex
}

// createHTTP1Client creates an HTTP client that forces HTTP/1.1.
// The websocket upgrade handshake requires HTTP/1.1, but the exchange's
// edge negotiates HTTP/2 via TLS ALPN unless it is excluded here.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewCandleStream creates a candlestick stream for the given symbols and
// interval
func NewCandleStream(symbols []string, interval domain.Interval, log zerolog.Logger) *CandleStream {
	return &CandleStream{
		url:        defaultStreamURL,
		httpClient: createHTTP1Client(),
		symbols:    symbols,
		interval:   interval,
		log:        log.With().Str("component", "candle_stream").Logger(),
		bars:       make(map[string][]domain.PriceBar),
		stopChan:   make(chan struct{}),
	}
}

// Start initializes the websocket connection and starts the read loop
func (s *CandleStream) Start() error {
	s.log.Info().
		Strs("symbols", s.symbols).
		Str("interval", string(s.interval)).
		Msg("Starting candle stream")

	if err := s.Connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial websocket connection failed, will retry in background")
		go s.reconnectLoop()
		return err
	}

	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	go s.readMessages(ctx)

	s.log.Info().Msg("Candle stream started")
	return nil
}

// Stop gracefully shuts down the stream
func (s *CandleStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.log.Info().Msg("Stopping candle stream")
	close(s.stopChan)

	return s.Disconnect()
}

// Connect establishes the websocket connection and subscribes to the
// candlesticks channel for every configured symbol
func (s *CandleStream) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info().Str("url", s.url).Msg("Connecting to Gate.io websocket")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{
		HTTPClient: s.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel
	s.connected = true

	if err := s.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		s.conn = nil
		s.connCtx = nil
		s.cancelFunc = nil
		s.connected = false
		return fmt.Errorf("failed to subscribe to candlesticks: %w", err)
	}

	s.log.Info().Msg("Connected to Gate.io websocket")
	return nil
}

// Disconnect closes the websocket connection
func (s *CandleStream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	s.log.Info().Msg("Disconnecting from Gate.io websocket")

	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connCtx = nil
	s.connected = false

	if err != nil {
		return fmt.Errorf("error closing websocket: %w", err)
	}
	return nil
}

// subscribe sends one subscription frame per symbol.
// Gate.io payload layout: [interval, currency_pair].
func (s *CandleStream) subscribe(ctx context.Context) error {
	for _, symbol := range s.symbols {
		frame := wsRequest{
			Time:    time.Now().Unix(),
			Channel: candlesticksChannel,
			Event:   "subscribe",
			Payload: []string{string(s.interval), strings.ToUpper(symbol)},
		}

		data, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("failed to marshal subscription for %s: %w", symbol, err)
		}

		writeCtx, cancel := context.WithTimeout(ctx, writeWait)
		err = s.conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to send subscription for %s: %w", symbol, err)
		}

		s.log.Debug().Str("symbol", symbol).Msg("Subscribed to candlesticks")
	}
	return nil
}

// readMessages continuously reads frames from the websocket
func (s *CandleStream) readMessages(ctx context.Context) {
	defer func() {
		s.log.Info().Msg("Read loop stopped")
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			s.log.Debug().Msg("Read loop context cancelled")
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		if conn == nil {
			s.log.Warn().Msg("Connection is nil, stopping read loop")
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				s.log.Info().Int("status", int(closeStatus)).Msg("Websocket closed normally")
			} else if ctx.Err() != nil {
				s.log.Debug().Msg("Read cancelled by context")
			} else {
				s.log.Error().Err(err).Msg("Unexpected websocket read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := s.handleMessage(message); err != nil {
			s.log.Error().Err(err).Str("message", string(message)).Msg("Failed to handle websocket message")
			// Keep reading despite parse errors
		}
	}
}

// handleMessage parses and processes one server frame
func (s *CandleStream) handleMessage(message []byte) error {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}

	if msg.Channel != candlesticksChannel {
		s.log.Debug().Str("channel", msg.Channel).Msg("Ignoring message for other channel")
		return nil
	}

	switch msg.Event {
	case "subscribe":
		if msg.Error != nil {
			return fmt.Errorf("subscription rejected: code %d: %s", msg.Error.Code, msg.Error.Message)
		}
		return nil
	case "update":
		var candle wsCandle
		if err := json.Unmarshal(msg.Result, &candle); err != nil {
			return fmt.Errorf("failed to parse candle update: %w", err)
		}
		return s.handleCandleUpdate(candle)
	default:
		return nil
	}
}

// handleCandleUpdate merges one candle update into the cache. An update
// for an already-cached open time replaces that bar in place.
func (s *CandleStream) handleCandleUpdate(candle wsCandle) error {
	// N is "<interval>_<currency_pair>"
	parts := strings.SplitN(candle.N, "_", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed candle name %q", candle.N)
	}
	if parts[0] != string(s.interval) {
		s.log.Debug().Str("name", candle.N).Msg("Ignoring candle for other interval")
		return nil
	}
	symbol := parts[1]

	bar, err := parseWSCandle(candle)
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	series := s.bars[symbol]
	if n := len(series); n > 0 && series[n-1].OpenTime.Equal(bar.OpenTime) {
		series[n-1] = bar
	} else {
		series = append(series, bar)
		if len(series) > maxCachedBars {
			series = series[len(series)-maxCachedBars:]
		}
	}
	s.bars[symbol] = series
	s.lastUpdate = time.Now()
	s.cacheMu.Unlock()

	return nil
}

func parseWSCandle(candle wsCandle) (domain.PriceBar, error) {
	ts, err := strconv.ParseFloat(candle.T, 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("parsing candle timestamp %q: %w", candle.T, err)
	}
	open, err := strconv.ParseFloat(candle.O, 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("parsing candle open %q: %w", candle.O, err)
	}
	high, err := strconv.ParseFloat(candle.H, 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("parsing candle high %q: %w", candle.H, err)
	}
	low, err := strconv.ParseFloat(candle.L, 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("parsing candle low %q: %w", candle.L, err)
	}
	closePrice, err := strconv.ParseFloat(candle.C, 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("parsing candle close %q: %w", candle.C, err)
	}

	return domain.PriceBar{
		OpenTime: time.Unix(int64(ts), 0).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
	}, nil
}

// reconnectLoop handles automatic reconnection with exponential backoff
func (s *CandleStream) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting || s.stopped {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-s.stopChan:
			s.log.Info().Msg("Reconnection loop stopped")
			return
		default:
		}

		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := s.calculateBackoff(attempt)

		if attempt <= maxReconnectAttempts {
			s.log.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Attempting websocket reconnect")
		} else {
			s.log.Warn().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Websocket reconnect attempt (exceeded max attempts, will keep retrying)")
		}

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.Connect(); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("Reconnect failed")
			continue
		}

		s.log.Info().Int("attempt", attempt).Msg("Reconnected to websocket")

		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		go s.readMessages(ctx)
		return
	}
}

// calculateBackoff returns the exponential backoff delay for an attempt,
// capped at maxReconnectDelay
func (s *CandleStream) calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// Bars returns a copy of the cached series for a symbol, oldest first
func (s *CandleStream) Bars(symbol string) []domain.PriceBar {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	series := s.bars[symbol]
	if len(series) == 0 {
		return nil
	}
	out := make([]domain.PriceBar, len(series))
	copy(out, series)
	return out
}

// Interval returns the interval this stream subscribes to
func (s *CandleStream) Interval() domain.Interval {
	return s.interval
}

// LastUpdate returns the time of the most recent cache write
func (s *CandleStream) LastUpdate() time.Time {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.lastUpdate
}

// IsCacheStale reports whether no update has arrived within roughly two
// bar lengths
func (s *CandleStream) IsCacheStale() bool {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if s.lastUpdate.IsZero() {
		return true
	}

	threshold := 2 * s.interval.Duration()
	if minimum := 2 * time.Minute; threshold < minimum {
		threshold = minimum
	}
	return time.Since(s.lastUpdate) > threshold
}

// IsConnected returns current connection status
func (s *CandleStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

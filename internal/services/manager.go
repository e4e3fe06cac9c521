package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/tiller/internal/clients/gateio"
	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
	"github.com/aristath/tiller/internal/modules/history"
	"github.com/rs/zerolog"
)

// Manager owns the per-symbol engines, the shared candle stream and the
// learner persistence hooks. It is the single surface the HTTP API talks
// to.
type Manager struct {
	engines map[string]*Engine
	order   []string
	stream  *gateio.CandleStream
	history *history.Repository
	bus     *events.Bus
	log     zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewManager creates an engine manager. The stream may be nil when the
// websocket feed is disabled; engines then fetch over REST only.
func NewManager(stream *gateio.CandleStream, repo *history.Repository, bus *events.Bus, log zerolog.Logger) *Manager {
	return &Manager{
		engines: make(map[string]*Engine),
		stream:  stream,
		history: repo,
		bus:     bus,
		log:     log.With().Str("service", "engine_manager").Logger(),
	}
}

// Register adds an engine. Must be called before Start; a duplicate
// symbol replaces the earlier registration.
func (m *Manager) Register(engine *Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.engines[engine.Symbol()]; !exists {
		m.order = append(m.order, engine.Symbol())
	}
	m.engines[engine.Symbol()] = engine
}

// Start connects the stream and launches every engine's control loop
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("engine manager already started")
	}
	if len(m.engines) == 0 {
		return fmt.Errorf("no engines registered")
	}

	if m.stream != nil {
		if err := m.stream.Start(); err != nil {
			return fmt.Errorf("starting candle stream: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, symbol := range m.order {
		engine := m.engines[symbol]
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			engine.Run(runCtx)
		}()
	}
	m.started = true

	m.log.Info().Strs("symbols", m.order).Msg("Engine manager started")
	if m.bus != nil {
		m.bus.Emit(events.EngineStarted, "services", map[string]interface{}{
			"symbols": append([]string(nil), m.order...),
			"count":   len(m.order),
		})
	}
	return nil
}

// Stop halts the control loops, disconnects the stream and persists
// learner state
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.started = false
	m.mu.Unlock()

	m.wg.Wait()

	if m.stream != nil {
		if err := m.stream.Stop(); err != nil {
			m.log.Warn().Err(err).Msg("Failed to stop candle stream")
		}
	}

	m.persistLearnerState()

	m.log.Info().Msg("Engine manager stopped")
	if m.bus != nil {
		m.bus.Emit(events.EngineStopped, "services", map[string]interface{}{
			"symbols": append([]string(nil), m.order...),
		})
	}
}

// persistLearnerState snapshots every online learner so a restart resumes
// where it left off
func (m *Manager) persistLearnerState() {
	if m.history == nil {
		return
	}
	for _, symbol := range m.order {
		engine := m.engines[symbol]
		learner := engine.Learner()
		if learner == nil {
			continue
		}
		if err := m.history.SaveLearnerState(symbol, learner.Memory(), learner.Gamma()); err != nil {
			m.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to persist learner state")
			continue
		}
		m.log.Info().Str("symbol", symbol).Float64("gamma", learner.Gamma()).Msg("Persisted learner state")
	}
}

// Engine returns the engine for a symbol
func (m *Manager) Engine(symbol string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	engine, ok := m.engines[symbol]
	return engine, ok
}

// Symbols returns the registered symbols in registration order
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// GammaState returns the live gamma state for a symbol
func (m *Manager) GammaState(symbol string) (domain.GammaState, bool) {
	engine, ok := m.Engine(symbol)
	if !ok {
		return domain.GammaState{}, false
	}
	return engine.GammaState(), true
}

// LearnerStatistics returns learning progress for a symbol running the
// online learner
func (m *Manager) LearnerStatistics(symbol string) (map[string]interface{}, bool) {
	engine, ok := m.Engine(symbol)
	if !ok || engine.Learner() == nil {
		return nil, false
	}
	return engine.Learner().Statistics(), true
}

// ResetLearner clears the learner memory for a symbol. Returns false when
// the symbol is unknown or not in online-adaptive mode.
func (m *Manager) ResetLearner(symbol string) bool {
	engine, ok := m.Engine(symbol)
	if !ok || engine.Learner() == nil {
		return false
	}
	engine.Learner().Reset()
	return true
}

// StreamConnected reports whether the shared candle stream is up
func (m *Manager) StreamConnected() bool {
	if m.stream == nil {
		return false
	}
	return m.stream.IsConnected()
}

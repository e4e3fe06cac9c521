// Package services wires the per-symbol parameter engines together and
// runs their control loops.
//
// An Engine pairs one refresh controller with a periodic ticker standing
// in for the external execution loop; the Manager owns every engine plus
// the shared market data stream and exposes the aggregate surface the
// HTTP API reads.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
	"github.com/aristath/tiller/internal/modules/adaptation"
	"github.com/aristath/tiller/internal/modules/history"
	"github.com/aristath/tiller/internal/modules/refresh"
	"github.com/rs/zerolog"
)

// DefaultControlCycle is the tick cadence of an engine's Run loop
const DefaultControlCycle = time.Second

// Engine runs the adaptive parameter engine for a single symbol. Ticking
// is delegated to the refresh controller, which decides on every cycle
// whether anything needs to happen.
type Engine struct {
	symbol  string
	ctrl    *refresh.Controller
	learner *adaptation.Learner
	base    domain.GammaState
	cycle   time.Duration
	log     zerolog.Logger
}

// NewEngine creates an engine for one symbol. The learner is nil except
// in online-adaptive mode; base carries the configured gamma bounds.
func NewEngine(symbol string, ctrl *refresh.Controller, learner *adaptation.Learner, base domain.GammaState, cycle time.Duration, log zerolog.Logger) *Engine {
	if cycle <= 0 {
		cycle = DefaultControlCycle
	}
	return &Engine{
		symbol:  symbol,
		ctrl:    ctrl,
		learner: learner,
		base:    base,
		cycle:   cycle,
		log:     log.With().Str("service", "engine").Str("symbol", symbol).Logger(),
	}
}

// Run ticks the controller once per control cycle until the context is
// cancelled
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cycle)
	defer ticker.Stop()

	e.log.Info().Dur("cycle", e.cycle).Str("mode", e.ctrl.Mode().String()).Msg("Engine control loop started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("Engine control loop stopped")
			return
		case now := <-ticker.C:
			if _, err := e.ctrl.Tick(ctx, now); err != nil {
				// Expected until the first successful publish
				if errors.Is(err, refresh.ErrNotInitialized) {
					e.log.Debug().Msg("Parameters not yet initialized")
					continue
				}
				e.log.Warn().Err(err).Msg("Control cycle failed")
			}
		}
	}
}

// Symbol returns the symbol this engine quotes
func (e *Engine) Symbol() string {
	return e.symbol
}

// Mode returns the configured gamma mode
func (e *Engine) Mode() domain.Mode {
	return e.ctrl.Mode()
}

// Current returns the published quote parameters, if any
func (e *Engine) Current() (domain.QuoteParameters, bool) {
	return e.ctrl.Current()
}

// Status returns the controller status snapshot
func (e *Engine) Status() refresh.Status {
	return e.ctrl.Status()
}

// ForceRefresh makes the engine's next tick recompute regardless of the
// refresh interval
func (e *Engine) ForceRefresh() {
	e.ctrl.ForceRefresh()
}

// GammaState reports the live gamma inside the configured bounds
func (e *Engine) GammaState() domain.GammaState {
	if e.learner != nil {
		return e.learner.State()
	}
	state := e.base
	state.Current = e.ctrl.Status().Gamma
	state.Mode = e.ctrl.Mode()
	return state
}

// Learner returns the online learner, or nil for other modes
func (e *Engine) Learner() *adaptation.Learner {
	return e.learner
}

// RestoreLearner builds the online gamma learner for a symbol, resuming
// from a persisted snapshot when one exists. The restored gamma is
// clamped into the currently configured bounds since those may have
// changed between runs.
func RestoreLearner(repo *history.Repository, symbol string, base domain.GammaState, learningRate float64, window int, bus *events.Bus, log zerolog.Logger) *adaptation.Learner {
	memory := domain.LearnerMemory{}
	state := base

	if repo != nil {
		mem, gamma, ok, err := repo.LoadLearnerState(symbol)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to load learner snapshot, starting fresh")
		case ok:
			memory = mem
			state.Current = state.Clamp(gamma)
			log.Info().
				Str("symbol", symbol).
				Float64("gamma", state.Current).
				Int("updates", mem.UpdateCount).
				Msg("Restored learner state")
		}
	}

	return adaptation.NewLearner(state, memory, learningRate, window, bus, log)
}

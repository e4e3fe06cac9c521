// Package refresh implements the parameter refresh controller: the state
// machine that decides when to fetch fresh bars, recompute quote
// parameters, and atomically publish them for the execution loop.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
	"github.com/aristath/tiller/internal/market_regime"
	"github.com/aristath/tiller/internal/modules/adaptation"
	"github.com/aristath/tiller/internal/modules/history"
	"github.com/aristath/tiller/internal/modules/optimal"
	"github.com/aristath/tiller/internal/modules/pricing"
	"github.com/aristath/tiller/internal/modules/volatility"
	"github.com/rs/zerolog"
)

// State is the controller's position in the refresh cycle
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateComputing  State = "computing"
	StatePublishing State = "publishing"
)

const (
	defaultRetryBackoff = 5 * time.Second
	defaultFetchTimeout = 10 * time.Second

	// one hour on the 365-day year basis
	defaultHorizonYears = 1.0 / (365 * 24)

	// a change record is flagged significant when any spread moves by
	// more than this fraction of its previous value
	significantChangeThreshold = 0.01
)

// ErrNotInitialized is returned by Tick before the first successful
// publish
var ErrNotInitialized = errors.New("parameters not initialized")

// StateSource supplies the externally owned inputs of a computation: the
// market snapshot and the realized PnL accumulated since the previous
// publish.
type StateSource interface {
	MarketState(ctx context.Context, symbol string) (domain.MarketState, error)
	RealizedPnL(symbol string) float64
}

// YearsFromDuration converts a wall-clock duration to the 365-day year
// basis shared with the volatility annualization
func YearsFromDuration(d time.Duration) float64 {
	return d.Seconds() / (365 * 24 * 3600)
}

// Config holds the per-symbol refresh settings
type Config struct {
	Symbol          string
	Mode            domain.Mode
	Interval        domain.Interval
	Lookback        int
	RefreshInterval time.Duration
	RetryBackoff    time.Duration
	FetchTimeout    time.Duration

	// Avellaneda-Stoikov modes
	HorizonYears      float64
	ProfitTakingLong  float64
	ProfitTakingShort float64
	StopLoss          float64

	// auto_optimize mode
	TimeToRefreshYears float64
	FillProbability    float64
	RiskProbability    float64
	MaxHoldingYears    float64
}

// Dependencies are the collaborators a controller drives. Provider,
// States and Estimator are always required; the rest depend on the mode.
type Dependencies struct {
	Provider   domain.BarProvider
	States     StateSource
	Estimator  *volatility.Estimator
	Engine     *pricing.Engine
	Learner    *adaptation.Learner
	Detector   *market_regime.Detector
	Calculator *optimal.Calculator
	History    *history.Repository
	Bus        *events.Bus
}

// Status is the controller state snapshot exposed by the API
type Status struct {
	Symbol      string      `json:"symbol"`
	State       State       `json:"state"`
	Mode        domain.Mode `json:"mode"`
	Gamma       float64     `json:"gamma"`
	Published   bool        `json:"published"`
	LastUpdate  time.Time   `json:"last_update"`
	LastFailure time.Time   `json:"last_failure"`
	Failures    int         `json:"failures"`
	Volatility  float64     `json:"volatility"`
}

// Controller owns the refresh schedule and the currently published
// QuoteParameters for one symbol. Tick is safe to invoke every control
// cycle; when the interval has not elapsed it returns immediately.
type Controller struct {
	cfg  Config
	deps Dependencies
	log  zerolog.Logger

	// base holds the configured gamma range; the learner owns its own
	// state in online mode
	base domain.GammaState

	tickMu sync.Mutex // serializes Tick end to end

	mu          sync.RWMutex // guards the fields below
	state       State
	schedule    domain.RefreshSchedule
	published   *domain.QuoteParameters
	current     float64 // latest resolved gamma
	lastVol     domain.VolatilityEstimate
	lastFailure time.Time
	failures    int
}

// NewController validates the configuration and builds a controller.
// Mode and gamma problems are configuration errors and fail here rather
// than surfacing on the tick path.
func NewController(cfg Config, gamma domain.GammaState, deps Dependencies, log zerolog.Logger) (*Controller, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if cfg.RefreshInterval <= 0 {
		return nil, errors.New("refresh interval must be positive")
	}
	if deps.Provider == nil || deps.States == nil || deps.Estimator == nil {
		return nil, errors.New("provider, state source and estimator are required")
	}

	switch cfg.Mode {
	case domain.ModeAutoOptimize:
		if deps.Calculator == nil {
			return nil, errors.New("auto_optimize mode requires the optimal calculator")
		}
		if cfg.FillProbability <= 0 || cfg.FillProbability >= 1 {
			return nil, fmt.Errorf("%w: fill probability %v", optimal.ErrInvalidProbability, cfg.FillProbability)
		}
		if cfg.RiskProbability <= 0 || cfg.RiskProbability >= 1 {
			return nil, fmt.Errorf("%w: risk probability %v", optimal.ErrInvalidProbability, cfg.RiskProbability)
		}
		if cfg.TimeToRefreshYears <= 0 {
			cfg.TimeToRefreshYears = YearsFromDuration(15 * time.Second)
		}
		if cfg.MaxHoldingYears <= 0 {
			cfg.MaxHoldingYears = YearsFromDuration(24 * time.Hour)
		}
	default:
		if deps.Engine == nil {
			return nil, errors.New("pricing engine is required")
		}
		if gamma.Current <= 0 {
			return nil, fmt.Errorf("%w: %v", pricing.ErrInvalidRiskFactor, gamma.Current)
		}
		if gamma.LowerBound <= 0 || gamma.UpperBound < gamma.LowerBound {
			return nil, fmt.Errorf("invalid gamma bounds [%v, %v]", gamma.LowerBound, gamma.UpperBound)
		}
		if cfg.Mode == domain.ModeOnlineAdaptive && deps.Learner == nil {
			return nil, errors.New("online_adaptive mode requires the learner")
		}
		if cfg.Mode == domain.ModeRuleAdaptive && deps.Detector == nil {
			return nil, errors.New("rule_adaptive mode requires the trend detector")
		}
	}

	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.HorizonYears <= 0 {
		cfg.HorizonYears = defaultHorizonYears
	}

	gamma.Mode = cfg.Mode

	return &Controller{
		cfg:  cfg,
		deps: deps,
		log: log.With().
			Str("module", "refresh").
			Str("symbol", cfg.Symbol).
			Logger(),
		base:     gamma,
		state:    StateIdle,
		schedule: domain.RefreshSchedule{Interval: cfg.RefreshInterval},
		current:  gamma.Current,
	}, nil
}

// Tick runs one control cycle. When the refresh interval has not elapsed,
// or a recent failure is still backing off, it returns the currently
// published parameters without any allocation or I/O. A refresh failure
// keeps the last published parameters in effect and never advances the
// schedule.
func (c *Controller) Tick(ctx context.Context, now time.Time) (domain.QuoteParameters, error) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	// Interval gate before anything else
	c.mu.RLock()
	due := c.schedule.Due(now)
	backingOff := !c.lastFailure.IsZero() && now.Sub(c.lastFailure) < c.cfg.RetryBackoff
	published := c.published
	c.mu.RUnlock()

	if !due || backingOff {
		if published == nil {
			return domain.QuoteParameters{}, ErrNotInitialized
		}
		return *published, nil
	}

	params, err := c.refresh(ctx, now)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.lastFailure = now
		c.failures++
		published = c.published
		c.mu.Unlock()

		c.log.Warn().Err(err).Msg("Refresh failed, keeping last published parameters")

		if published == nil {
			return domain.QuoteParameters{}, ErrNotInitialized
		}
		return *published, nil
	}

	return params, nil
}

// refresh runs Fetching, Computing and Publishing for one eligible tick
func (c *Controller) refresh(ctx context.Context, now time.Time) (domain.QuoteParameters, error) {
	c.setState(StateFetching)

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	bars, err := c.deps.Provider.GetPriceBars(fetchCtx, c.cfg.Symbol, c.cfg.Interval, c.cfg.Lookback)
	cancel()
	if err != nil {
		if c.deps.Bus != nil {
			c.deps.Bus.EmitError(events.DataProviderFailed, "refresh", err, map[string]interface{}{
				"symbol": c.cfg.Symbol,
			})
		}
		return domain.QuoteParameters{}, fmt.Errorf("fetching bars: %w", err)
	}

	c.setState(StateComputing)

	vol, err := c.deps.Estimator.Estimate(bars, c.cfg.Interval)
	if err != nil {
		return domain.QuoteParameters{}, fmt.Errorf("estimating volatility: %w", err)
	}

	state, err := c.deps.States.MarketState(ctx, c.cfg.Symbol)
	if err != nil {
		return domain.QuoteParameters{}, fmt.Errorf("reading market state: %w", err)
	}

	params, err := c.compute(bars, vol, state, now)
	if err != nil {
		return domain.QuoteParameters{}, err
	}

	c.setState(StatePublishing)
	c.publish(params, vol, now)
	c.setState(StateIdle)

	return params, nil
}

// compute derives one QuoteParameters set from fresh inputs
func (c *Controller) compute(bars []domain.PriceBar, vol domain.VolatilityEstimate, state domain.MarketState, now time.Time) (domain.QuoteParameters, error) {
	if c.cfg.Mode == domain.ModeAutoOptimize {
		opt, err := c.deps.Calculator.Compute(
			vol.Value, c.cfg.TimeToRefreshYears, c.cfg.FillProbability, c.cfg.RiskProbability, c.cfg.MaxHoldingYears)
		if err != nil {
			return domain.QuoteParameters{}, fmt.Errorf("computing optimal parameters: %w", err)
		}
		return domain.QuoteParameters{
			BidSpread:               opt.BidSpread,
			AskSpread:               opt.AskSpread,
			ReservationPrice:        state.MidPrice,
			ProfitTakingSpreadLong:  opt.LongProfitTakingSpread,
			ProfitTakingSpreadShort: opt.ShortProfitTakingSpread,
			StopLossSpread:          opt.StopLossSpread,
			GammaUsed:               c.gammaValue(),
			GammaMode:               c.cfg.Mode,
			VolatilityUsed:          vol.Value,
			GeneratedAt:             now,
		}, nil
	}

	// The learner must not step when the quote cannot be computed
	if state.DepthKappa <= 0 {
		return domain.QuoteParameters{}, fmt.Errorf("%w: %v", pricing.ErrInvalidOrderBookDepth, state.DepthKappa)
	}

	gamma := c.resolveGamma(bars, vol, state, now)

	result, err := c.deps.Engine.Quote(state, gamma, vol.Value, c.cfg.HorizonYears, state.DepthKappa)
	if err != nil {
		return domain.QuoteParameters{}, fmt.Errorf("pricing quote: %w", err)
	}

	return domain.QuoteParameters{
		BidSpread:               result.BidSpread,
		AskSpread:               result.AskSpread,
		ReservationPrice:        result.ReservationPrice,
		ProfitTakingSpreadLong:  c.cfg.ProfitTakingLong,
		ProfitTakingSpreadShort: c.cfg.ProfitTakingShort,
		StopLossSpread:          c.cfg.StopLoss,
		GammaUsed:               gamma,
		GammaMode:               c.cfg.Mode,
		VolatilityUsed:          vol.Value,
		GeneratedAt:             now,
	}, nil
}

// resolveGamma produces the risk-aversion coefficient for this refresh
// according to the configured mode
func (c *Controller) resolveGamma(bars []domain.PriceBar, vol domain.VolatilityEstimate, state domain.MarketState, now time.Time) float64 {
	var gamma float64

	switch c.cfg.Mode {
	case domain.ModeOnlineAdaptive:
		pnl := c.deps.States.RealizedPnL(c.cfg.Symbol)
		spreadEff := 0.0
		c.mu.RLock()
		if c.published != nil {
			spreadEff = adaptation.SpreadEfficiency(c.published.BidSpread+c.published.AskSpread, vol.Value)
		}
		c.mu.RUnlock()
		gamma = c.deps.Learner.Update(pnl, state.Inventory, vol.Value, spreadEff, now)

	case domain.ModeRuleAdaptive:
		trend := c.deps.Detector.Detect(c.cfg.Symbol, bars)
		gamma = adaptation.ScheduleGamma(
			c.base.Current, vol.Value, state.Inventory, trend, c.base.LowerBound, c.base.UpperBound)

	default:
		gamma = c.base.Current
	}

	c.mu.Lock()
	c.current = gamma
	c.mu.Unlock()
	return gamma
}

// publish swaps the exposed parameters, advances the schedule, records
// the change and emits ParametersPublished
func (c *Controller) publish(params domain.QuoteParameters, vol domain.VolatilityEstimate, now time.Time) {
	c.mu.Lock()
	previous := c.published
	next := params
	c.published = &next
	c.schedule.LastUpdate = now
	c.lastFailure = time.Time{}
	c.failures = 0
	c.lastVol = vol
	c.mu.Unlock()

	newSet := history.SpreadSet{
		BidSpread:   params.BidSpread,
		AskSpread:   params.AskSpread,
		ProfitLong:  params.ProfitTakingSpreadLong,
		ProfitShort: params.ProfitTakingSpreadShort,
		StopLoss:    params.StopLossSpread,
	}
	var oldSet *history.SpreadSet
	if previous != nil {
		oldSet = &history.SpreadSet{
			BidSpread:   previous.BidSpread,
			AskSpread:   previous.AskSpread,
			ProfitLong:  previous.ProfitTakingSpreadLong,
			ProfitShort: previous.ProfitTakingSpreadShort,
			StopLoss:    previous.StopLossSpread,
		}
	}
	significant := isSignificantChange(oldSet, newSet)

	if c.deps.History != nil {
		change := history.ParameterChange{
			Symbol:             c.cfg.Symbol,
			ChangedAt:          now,
			GammaMode:          params.GammaMode,
			Significant:        significant,
			Old:                oldSet,
			New:                newSet,
			Volatility:         vol.Value,
			VolatilityInterval: vol.Interval,
			Gamma:              params.GammaUsed,
		}
		if err := c.deps.History.RecordChange(change); err != nil {
			c.log.Error().Err(err).Msg("Failed to record parameter change")
		}
	}

	if c.deps.Bus != nil {
		data := map[string]interface{}{
			"symbol":              c.cfg.Symbol,
			"significant":         significant,
			"new":                 spreadSetMap(newSet),
			"volatility":          vol.Value,
			"volatility_interval": string(vol.Interval),
			"gamma":               params.GammaUsed,
			"gamma_mode":          params.GammaMode.String(),
		}
		if oldSet != nil {
			data["old"] = spreadSetMap(*oldSet)
		}
		c.deps.Bus.Emit(events.ParametersPublished, "refresh", data)
	}

	c.log.Info().
		Float64("bid_spread", params.BidSpread).
		Float64("ask_spread", params.AskSpread).
		Float64("stop_loss", params.StopLossSpread).
		Float64("gamma", params.GammaUsed).
		Float64("volatility", vol.Value).
		Bool("significant", significant).
		Msg("Published quote parameters")
}

// Current returns a copy of the published parameters, if any
func (c *Controller) Current() (domain.QuoteParameters, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.published == nil {
		return domain.QuoteParameters{}, false
	}
	return *c.published, true
}

// ForceRefresh makes the next Tick eligible regardless of the interval
// and clears any failure backoff
func (c *Controller) ForceRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedule.LastUpdate = time.Time{}
	c.lastFailure = time.Time{}
}

// Status returns a snapshot of the controller for the status API
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Symbol:      c.cfg.Symbol,
		State:       c.state,
		Mode:        c.cfg.Mode,
		Gamma:       c.gammaValueLocked(),
		Published:   c.published != nil,
		LastUpdate:  c.schedule.LastUpdate,
		LastFailure: c.lastFailure,
		Failures:    c.failures,
		Volatility:  c.lastVol.Value,
	}
}

// Mode returns the configured gamma mode
func (c *Controller) Mode() domain.Mode {
	return c.cfg.Mode
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) gammaValue() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gammaValueLocked()
}

func (c *Controller) gammaValueLocked() float64 {
	if c.cfg.Mode == domain.ModeOnlineAdaptive && c.deps.Learner != nil {
		return c.deps.Learner.Gamma()
	}
	return c.current
}

// isSignificantChange reports whether any spread moved by more than the
// relative threshold. The first publish is always significant.
func isSignificantChange(previous *history.SpreadSet, next history.SpreadSet) bool {
	if previous == nil {
		return true
	}
	pairs := [5][2]float64{
		{previous.BidSpread, next.BidSpread},
		{previous.AskSpread, next.AskSpread},
		{previous.ProfitLong, next.ProfitLong},
		{previous.ProfitShort, next.ProfitShort},
		{previous.StopLoss, next.StopLoss},
	}
	for _, p := range pairs {
		if relativeChangeExceeds(p[0], p[1], significantChangeThreshold) {
			return true
		}
	}
	return false
}

func relativeChangeExceeds(oldVal, newVal, threshold float64) bool {
	if oldVal == 0 {
		return newVal != 0
	}
	return math.Abs(newVal-oldVal) > threshold*math.Abs(oldVal)
}

func spreadSetMap(s history.SpreadSet) map[string]interface{} {
	return map[string]interface{}{
		"bid_spread":   s.BidSpread,
		"ask_spread":   s.AskSpread,
		"profit_long":  s.ProfitLong,
		"profit_short": s.ProfitShort,
		"stop_loss":    s.StopLoss,
	}
}

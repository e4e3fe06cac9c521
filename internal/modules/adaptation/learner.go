// Package adaptation adjusts the risk factor gamma in response to market
// conditions, either through an online reward-driven learner or a
// rule-based scheduler.
package adaptation

import (
	"math"
	"sync"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

const (
	inventoryPenaltyWeight = 0.1
	// DefaultRewardWindow bounds the learner's reward history FIFO
	DefaultRewardWindow = 100
)

// SpreadEfficiency scores how close a spread sits to twice the current
// volatility, the reference width for a spread that still fills. Zero is
// ideal; wider deviations score increasingly negative.
func SpreadEfficiency(spread, volatility float64) float64 {
	return -math.Abs(spread-2.0*volatility) * 0.05
}

// Learner adjusts gamma with a momentum-style reward comparison: each
// update scores the elapsed interval, compares the score against the
// trailing mean of earlier rewards, and steps gamma one learning-rate
// increment in (or against) the direction of its last change.
type Learner struct {
	mu           sync.Mutex
	state        domain.GammaState
	memory       domain.LearnerMemory
	learningRate float64
	window       int
	bus          *events.Bus
	log          zerolog.Logger
}

// NewLearner creates an online gamma learner. A restored memory snapshot
// may be passed in to continue a previous run; the zero value starts
// fresh.
func NewLearner(state domain.GammaState, memory domain.LearnerMemory, learningRate float64, window int, bus *events.Bus, log zerolog.Logger) *Learner {
	if window <= 0 {
		window = DefaultRewardWindow
	}
	if memory.LastDirection == 0 {
		memory.LastDirection = 1
	}
	return &Learner{
		state:        state,
		memory:       memory,
		learningRate: learningRate,
		window:       window,
		bus:          bus,
		log:          log.With().Str("module", "adaptation").Str("strategy", "online_learner").Logger(),
	}
}

// Update scores the interval since the previous call and steps gamma.
//
// reward = (pnl - lastPnL) - 0.1*|inventoryDeviation| + spreadEfficiency.
// A reward above the trailing baseline keeps the last step direction, a
// reward at or below it reverses. The step magnitude is exactly the
// learning rate, and the result is clamped to the configured bounds, so a
// zero learning rate freezes gamma. Repeating a call with identical
// inputs and the same timestamp is a no-op: reward attribution needs
// elapsed PnL between invocations.
func (l *Learner) Update(realizedPnL, inventoryDeviation, volatility, spreadEfficiency float64, now time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isRepeatInput(realizedPnL, inventoryDeviation, volatility, spreadEfficiency, now) {
		l.log.Debug().Msg("Duplicate update input, skipping")
		return l.state.Current
	}

	reward := (realizedPnL - l.memory.LastPnL) -
		inventoryPenaltyWeight*math.Abs(inventoryDeviation) +
		spreadEfficiency

	// Baseline over the rewards seen before this one. The first update
	// has nothing to compare against and only records.
	hasBaseline := len(l.memory.RewardHistory) > 0
	baseline := 0.0
	if hasBaseline {
		baseline = stat.Mean(l.memory.RewardHistory, nil)
	}

	l.memory.RewardHistory = append(l.memory.RewardHistory, reward)
	if len(l.memory.RewardHistory) > l.window {
		l.memory.RewardHistory = l.memory.RewardHistory[len(l.memory.RewardHistory)-l.window:]
	}
	l.memory.LastPnL = realizedPnL
	l.memory.LastInventoryDeviation = inventoryDeviation
	l.memory.LastVolatility = volatility
	l.memory.LastSpreadEfficiency = spreadEfficiency
	l.memory.LastUpdateAt = now
	l.memory.UpdateCount++

	if !hasBaseline {
		return l.state.Current
	}

	direction := l.memory.LastDirection
	if reward <= baseline {
		direction = -direction
	}
	l.memory.LastDirection = direction

	previous := l.state.Current
	l.state.Current = l.state.Clamp(previous + l.learningRate*direction)

	if l.state.Current != previous {
		l.log.Info().
			Float64("previous", previous).
			Float64("gamma", l.state.Current).
			Float64("reward", reward).
			Float64("baseline", baseline).
			Float64("direction", direction).
			Msg("Gamma adjusted")
		l.bus.Emit(events.GammaAdjusted, "adaptation", map[string]interface{}{
			"previous":  previous,
			"gamma":     l.state.Current,
			"reward":    reward,
			"baseline":  baseline,
			"direction": direction,
		})
	}

	return l.state.Current
}

func (l *Learner) isRepeatInput(pnl, inventoryDeviation, volatility, spreadEfficiency float64, now time.Time) bool {
	return l.memory.UpdateCount > 0 &&
		now.Equal(l.memory.LastUpdateAt) &&
		pnl == l.memory.LastPnL &&
		inventoryDeviation == l.memory.LastInventoryDeviation &&
		volatility == l.memory.LastVolatility &&
		spreadEfficiency == l.memory.LastSpreadEfficiency
}

// Gamma returns the current gamma value
func (l *Learner) Gamma() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Current
}

// State returns a copy of the gamma state
func (l *Learner) State() domain.GammaState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Memory returns a copy of the learner memory, suitable for persisting
func (l *Learner) Memory() domain.LearnerMemory {
	l.mu.Lock()
	defer l.mu.Unlock()
	mem := l.memory
	mem.RewardHistory = append([]float64(nil), l.memory.RewardHistory...)
	return mem
}

// Reset clears accumulated memory, keeping the current gamma and bounds
func (l *Learner) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.memory = domain.LearnerMemory{LastDirection: 1}
	l.log.Info().Msg("Learner memory reset")
}

// Statistics summarizes learning progress for status reporting
func (l *Learner) Statistics() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := map[string]interface{}{
		"gamma":        l.state.Current,
		"update_count": l.memory.UpdateCount,
		"window_fill":  len(l.memory.RewardHistory),
	}
	if len(l.memory.RewardHistory) > 0 {
		stats["avg_reward"] = stat.Mean(l.memory.RewardHistory, nil)
	}
	if len(l.memory.RewardHistory) > 1 {
		stats["reward_std"] = stat.StdDev(l.memory.RewardHistory, nil)
	}
	return stats
}

package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState(mid, inventory float64) domain.MarketState {
	return domain.MarketState{
		MidPrice:  mid,
		Inventory: inventory,
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEngine_SymmetricQuoteAtZeroInventory(t *testing.T) {
	e := NewEngine(0, 0.5, events.NewBus(zerolog.Nop()), zerolog.Nop())

	result, err := e.Quote(testState(50000, 0), 1.5, 0.03, 1.0/8760.0, 1.5)
	require.NoError(t, err)

	assert.Equal(t, 50000.0, result.ReservationPrice, "zero inventory keeps reservation at mid")

	// delta = gamma*sigma^2*T + (2/gamma)*ln(1+gamma/kappa)
	wantSpread := 1.5*0.03*0.03*(1.0/8760.0) + (2.0/1.5)*math.Log(2.0)
	assert.InDelta(t, wantSpread, result.OptimalSpread, 1e-9)

	assert.InDelta(t, 50000.0-wantSpread/2, result.Bid, 1e-9)
	assert.InDelta(t, 50000.0+wantSpread/2, result.Ask, 1e-9)
	assert.InDelta(t, result.BidSpread, result.AskSpread, 1e-12, "symmetric split at zero inventory")
	assert.False(t, result.Clamped)
}

func TestEngine_InventoryShiftsReservation(t *testing.T) {
	e := NewEngine(0, 0.5, events.NewBus(zerolog.Nop()), zerolog.Nop())

	// r = S - q*gamma*sigma*sqrt(T)
	long, err := e.Quote(testState(100, 2.0), 1.0, 0.1, 0.25, 1.5)
	require.NoError(t, err)
	assert.InDelta(t, 100.0-2.0*1.0*0.1*0.5, long.ReservationPrice, 1e-12)
	assert.Less(t, long.ReservationPrice, 100.0, "long inventory skews quotes downward")

	short, err := e.Quote(testState(100, -2.0), 1.0, 0.1, 0.25, 1.5)
	require.NoError(t, err)
	assert.Greater(t, short.ReservationPrice, 100.0, "short inventory skews quotes upward")
}

func TestEngine_RiskAversionWidensSpread(t *testing.T) {
	e := NewEngine(0, 0.5, events.NewBus(zerolog.Nop()), zerolog.Nop())

	gammas := []float64{0.01, 0.1, 0.5, 1.0, 2.0, 5.0}
	prev := -1.0
	for _, gamma := range gammas {
		result, err := e.Quote(testState(100, 0), gamma, 0.8, 1.0, 5.0)
		require.NoError(t, err)
		assert.Greater(t, result.OptimalSpread, prev,
			"spread must not shrink as gamma rises (gamma=%v)", gamma)
		prev = result.OptimalSpread
	}
}

func TestEngine_SpreadFloorClamp(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	clampEvents := 0
	bus.Subscribe(events.SpreadFloorClamped, func(ev *events.Event) {
		clampEvents++
	})

	e := NewEngine(0.002, 0.5, bus, zerolog.Nop())

	// Deep book and tiny gamma push the model spread well below the floor.
	result, err := e.Quote(testState(100, 0), 0.01, 0.001, 1.0/8760.0, 10000)
	require.NoError(t, err)

	assert.True(t, result.Clamped)
	assert.InDelta(t, 0.002*100, result.OptimalSpread, 1e-12, "spread clamps to the floor")
	assert.InDelta(t, 0.002, result.BidSpread+result.AskSpread, 1e-12)
	assert.Equal(t, 1, clampEvents, "clamp is surfaced as an event")
}

func TestEngine_NoClampAboveFloor(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	clampEvents := 0
	bus.Subscribe(events.SpreadFloorClamped, func(ev *events.Event) {
		clampEvents++
	})

	e := NewEngine(0.000001, 0.5, bus, zerolog.Nop())

	result, err := e.Quote(testState(100, 0), 1.0, 0.05, 1.0/8760.0, 1.5)
	require.NoError(t, err)
	assert.False(t, result.Clamped)
	assert.Equal(t, 0, clampEvents)
}

func TestEngine_InvalidRiskFactor(t *testing.T) {
	e := NewEngine(0, 0.5, events.NewBus(zerolog.Nop()), zerolog.Nop())

	_, err := e.Quote(testState(100, 0), 0, 0.03, 1.0/8760.0, 1.5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRiskFactor)

	_, err = e.Quote(testState(100, 0), -1.0, 0.03, 1.0/8760.0, 1.5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRiskFactor)
}

func TestEngine_InvalidOrderBookDepth(t *testing.T) {
	e := NewEngine(0, 0.5, events.NewBus(zerolog.Nop()), zerolog.Nop())

	_, err := e.Quote(testState(100, 0), 1.0, 0.03, 1.0/8760.0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOrderBookDepth)
}

func TestEngine_ShapeFactorSplitsSpread(t *testing.T) {
	e := NewEngine(0, 1.0, events.NewBus(zerolog.Nop()), zerolog.Nop())

	result, err := e.Quote(testState(100, 0), 1.0, 0.05, 0.5, 1.5)
	require.NoError(t, err)

	// eta=1 puts the whole spread on the bid side.
	assert.InDelta(t, result.ReservationPrice-result.OptimalSpread, result.Bid, 1e-12)
	assert.InDelta(t, result.ReservationPrice, result.Ask, 1e-12)
}

func TestEngine_ShapeFactorFallback(t *testing.T) {
	e := NewEngine(0, -3.0, events.NewBus(zerolog.Nop()), zerolog.Nop())
	assert.Equal(t, 0.5, e.eta, "out-of-range shape factor falls back to symmetric split")
}

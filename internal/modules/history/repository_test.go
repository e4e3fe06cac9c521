package history

import (
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// setupTestDB creates an in-memory database with the history schema
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE parameter_changes (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			changed_at INTEGER NOT NULL,
			gamma_mode TEXT NOT NULL,
			significant INTEGER NOT NULL DEFAULT 0,
			old_bid_spread REAL,
			old_ask_spread REAL,
			old_profit_long REAL,
			old_profit_short REAL,
			old_stop_loss REAL,
			new_bid_spread REAL NOT NULL,
			new_ask_spread REAL NOT NULL,
			new_profit_long REAL NOT NULL,
			new_profit_short REAL NOT NULL,
			new_stop_loss REAL NOT NULL,
			volatility REAL,
			volatility_interval TEXT,
			gamma REAL
		);
		CREATE INDEX idx_parameter_changes_symbol_time
			ON parameter_changes(symbol, changed_at DESC);
		CREATE TABLE learner_snapshots (
			symbol TEXT PRIMARY KEY,
			memory BLOB NOT NULL,
			gamma REAL NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	return db
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewRepository(setupTestDB(t), log)
}

func sampleChange(symbol string, changedAt time.Time) ParameterChange {
	return ParameterChange{
		Symbol:      symbol,
		ChangedAt:   changedAt,
		GammaMode:   domain.ModeOnlineAdaptive,
		Significant: true,
		Old: &SpreadSet{
			BidSpread:   0.0020,
			AskSpread:   0.0021,
			ProfitLong:  0.03,
			ProfitShort: 0.03,
			StopLoss:    0.10,
		},
		New: SpreadSet{
			BidSpread:   0.0025,
			AskSpread:   0.0026,
			ProfitLong:  0.03,
			ProfitShort: 0.03,
			StopLoss:    0.10,
		},
		Volatility:         0.42,
		VolatilityInterval: domain.Interval1h,
		Gamma:              0.8,
	}
}

func TestRecordChange_AssignsIDAndRoundTrips(t *testing.T) {
	repo := newTestRepository(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := repo.RecordChange(sampleChange("BTC_USDT", now))
	require.NoError(t, err)

	changes, err := repo.ListRecent("BTC_USDT", 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	got := changes[0]
	assert.NotEmpty(t, got.ID, "missing ID should be filled with a UUID")
	assert.Equal(t, "BTC_USDT", got.Symbol)
	assert.True(t, got.ChangedAt.Equal(now), "timestamps should survive the unix round trip")
	assert.Equal(t, domain.ModeOnlineAdaptive, got.GammaMode)
	assert.True(t, got.Significant)
	require.NotNil(t, got.Old)
	assert.InDelta(t, 0.0020, got.Old.BidSpread, 1e-12)
	assert.InDelta(t, 0.0025, got.New.BidSpread, 1e-12)
	assert.InDelta(t, 0.10, got.New.StopLoss, 1e-12)
	assert.InDelta(t, 0.42, got.Volatility, 1e-12)
	assert.Equal(t, domain.Interval1h, got.VolatilityInterval)
	assert.InDelta(t, 0.8, got.Gamma, 1e-12)
}

func TestRecordChange_FirstPublishHasNilOld(t *testing.T) {
	repo := newTestRepository(t)

	change := sampleChange("ETH_USDT", time.Now().UTC().Truncate(time.Second))
	change.Old = nil
	change.Significant = false
	require.NoError(t, repo.RecordChange(change))

	changes, err := repo.ListRecent("ETH_USDT", 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].Old, "first publish should round-trip with no old spreads")
	assert.False(t, changes[0].Significant)
}

func TestListRecent_OrdersNewestFirstAndLimits(t *testing.T) {
	repo := newTestRepository(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		change := sampleChange("BTC_USDT", base.Add(time.Duration(i)*time.Minute))
		change.New.BidSpread = float64(i)
		require.NoError(t, repo.RecordChange(change))
	}
	// Different symbol must not leak into the listing
	require.NoError(t, repo.RecordChange(sampleChange("ETH_USDT", base.Add(time.Hour))))

	changes, err := repo.ListRecent("BTC_USDT", 3)
	require.NoError(t, err)
	require.Len(t, changes, 3)

	assert.InDelta(t, 4.0, changes[0].New.BidSpread, 1e-12)
	assert.InDelta(t, 3.0, changes[1].New.BidSpread, 1e-12)
	assert.InDelta(t, 2.0, changes[2].New.BidSpread, 1e-12)
	for _, c := range changes {
		assert.Equal(t, "BTC_USDT", c.Symbol)
	}
}

func TestListAllRecent_SpansSymbols(t *testing.T) {
	repo := newTestRepository(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordChange(sampleChange("BTC_USDT", base)))
	require.NoError(t, repo.RecordChange(sampleChange("ETH_USDT", base.Add(time.Minute))))
	require.NoError(t, repo.RecordChange(sampleChange("SOL_USDT", base.Add(2*time.Minute))))

	changes, err := repo.ListAllRecent(2)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "SOL_USDT", changes[0].Symbol)
	assert.Equal(t, "ETH_USDT", changes[1].Symbol)
}

func TestListRecent_EmptyForUnknownSymbol(t *testing.T) {
	repo := newTestRepository(t)

	changes, err := repo.ListRecent("XRP_USDT", 10)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestPruneOlderThan_RemovesOnlyOldRows(t *testing.T) {
	repo := newTestRepository(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		require.NoError(t, repo.RecordChange(sampleChange("BTC_USDT", base.Add(time.Duration(i)*time.Hour))))
	}

	removed, err := repo.PruneOlderThan(base.Add(3 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	changes, err := repo.ListRecent("BTC_USDT", 10)
	require.NoError(t, err)
	assert.Len(t, changes, 3)
	for _, c := range changes {
		assert.False(t, c.ChangedAt.Before(base.Add(3*time.Hour)))
	}

	// No rows match a cutoff in the past
	removed, err = repo.PruneOlderThan(base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestSaveLoadLearnerState_RoundTrip(t *testing.T) {
	repo := newTestRepository(t)

	memory := domain.LearnerMemory{
		LastPnL:                12.5,
		LastInventoryDeviation: -0.2,
		LastVolatility:         0.35,
		LastSpreadEfficiency:   -0.01,
		RewardHistory:          []float64{0.5, 1.25, -0.75},
		LastDirection:          -1,
		UpdateCount:            42,
		LastUpdateAt:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, repo.SaveLearnerState("BTC_USDT", memory, 0.85))

	loaded, gamma, ok, err := repo.LoadLearnerState("BTC_USDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.85, gamma, 1e-12)
	assert.InDelta(t, 12.5, loaded.LastPnL, 1e-12)
	assert.InDelta(t, -0.2, loaded.LastInventoryDeviation, 1e-12)
	assert.Equal(t, []float64{0.5, 1.25, -0.75}, loaded.RewardHistory)
	assert.InDelta(t, -1.0, loaded.LastDirection, 1e-12)
	assert.Equal(t, 42, loaded.UpdateCount)
	assert.True(t, loaded.LastUpdateAt.Equal(memory.LastUpdateAt))
}

func TestSaveLearnerState_UpsertsOnConflict(t *testing.T) {
	repo := newTestRepository(t)

	first := domain.LearnerMemory{RewardHistory: []float64{1}, LastDirection: 1, UpdateCount: 1}
	second := domain.LearnerMemory{RewardHistory: []float64{1, 2}, LastDirection: -1, UpdateCount: 2}

	require.NoError(t, repo.SaveLearnerState("BTC_USDT", first, 0.5))
	require.NoError(t, repo.SaveLearnerState("BTC_USDT", second, 0.7))

	loaded, gamma, ok, err := repo.LoadLearnerState("BTC_USDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.7, gamma, 1e-12)
	assert.Equal(t, 2, loaded.UpdateCount)
	assert.Equal(t, []float64{1, 2}, loaded.RewardHistory)
}

func TestLoadLearnerState_MissingSymbol(t *testing.T) {
	repo := newTestRepository(t)

	_, _, ok, err := repo.LoadLearnerState("NOPE_USDT")
	require.NoError(t, err)
	assert.False(t, ok, "missing snapshot should report ok=false without error")
}

func TestDeleteLearnerState_RemovesSnapshot(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveLearnerState("BTC_USDT", domain.LearnerMemory{LastDirection: 1}, 0.5))
	require.NoError(t, repo.DeleteLearnerState("BTC_USDT"))

	_, _, ok, err := repo.LoadLearnerState("BTC_USDT")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent snapshot is not an error
	require.NoError(t, repo.DeleteLearnerState("BTC_USDT"))
}

// Package history persists published-parameter change records and learner
// memory snapshots.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// SpreadSet groups the five published spreads of one parameter set
type SpreadSet struct {
	BidSpread   float64 `json:"bid_spread"`
	AskSpread   float64 `json:"ask_spread"`
	ProfitLong  float64 `json:"profit_taking_spread_long"`
	ProfitShort float64 `json:"profit_taking_spread_short"`
	StopLoss    float64 `json:"stop_loss_spread"`
}

// ParameterChange is one published-parameter change record. Old is nil for
// the first publish of a symbol.
type ParameterChange struct {
	ID                 string          `json:"id"`
	Symbol             string          `json:"symbol"`
	ChangedAt          time.Time       `json:"changed_at"`
	GammaMode          domain.Mode     `json:"gamma_mode"`
	Significant        bool            `json:"significant"`
	Old                *SpreadSet      `json:"old,omitempty"`
	New                SpreadSet       `json:"new"`
	Volatility         float64         `json:"volatility"`
	VolatilityInterval domain.Interval `json:"volatility_interval"`
	Gamma              float64         `json:"gamma"`
}

// changeColumns is the column list for parameter_changes.
// Order must match the scan helpers below.
const changeColumns = `id, symbol, changed_at, gamma_mode, significant,
	old_bid_spread, old_ask_spread, old_profit_long, old_profit_short, old_stop_loss,
	new_bid_spread, new_ask_spread, new_profit_long, new_profit_short, new_stop_loss,
	volatility, volatility_interval, gamma`

// Repository handles parameter history database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new history repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "history").Logger(),
	}
}

// RecordChange inserts a parameter change record. A missing ID is filled
// with a fresh UUID.
func (r *Repository) RecordChange(change ParameterChange) error {
	if change.ID == "" {
		change.ID = uuid.New().String()
	}

	var oldBid, oldAsk, oldProfitLong, oldProfitShort, oldStop sql.NullFloat64
	if change.Old != nil {
		oldBid = sql.NullFloat64{Float64: change.Old.BidSpread, Valid: true}
		oldAsk = sql.NullFloat64{Float64: change.Old.AskSpread, Valid: true}
		oldProfitLong = sql.NullFloat64{Float64: change.Old.ProfitLong, Valid: true}
		oldProfitShort = sql.NullFloat64{Float64: change.Old.ProfitShort, Valid: true}
		oldStop = sql.NullFloat64{Float64: change.Old.StopLoss, Valid: true}
	}

	query := `
		INSERT INTO parameter_changes
		(id, symbol, changed_at, gamma_mode, significant,
		 old_bid_spread, old_ask_spread, old_profit_long, old_profit_short, old_stop_loss,
		 new_bid_spread, new_ask_spread, new_profit_long, new_profit_short, new_stop_loss,
		 volatility, volatility_interval, gamma)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		change.ID,
		change.Symbol,
		change.ChangedAt.Unix(),
		change.GammaMode.String(),
		boolToInt(change.Significant),
		oldBid, oldAsk, oldProfitLong, oldProfitShort, oldStop,
		change.New.BidSpread,
		change.New.AskSpread,
		change.New.ProfitLong,
		change.New.ProfitShort,
		change.New.StopLoss,
		change.Volatility,
		string(change.VolatilityInterval),
		change.Gamma,
	)
	if err != nil {
		return fmt.Errorf("failed to record parameter change: %w", err)
	}

	r.log.Debug().
		Str("symbol", change.Symbol).
		Bool("significant", change.Significant).
		Msg("Parameter change recorded")

	return nil
}

// ListRecent retrieves the most recent change records for a symbol,
// newest first
func (r *Repository) ListRecent(symbol string, limit int) ([]ParameterChange, error) {
	query := `
		SELECT ` + changeColumns + ` FROM parameter_changes
		WHERE symbol = ?
		ORDER BY changed_at DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter changes: %w", err)
	}
	defer rows.Close()

	return scanChanges(rows)
}

// ListAllRecent retrieves the most recent change records across all
// symbols, newest first
func (r *Repository) ListAllRecent(limit int) ([]ParameterChange, error) {
	query := `
		SELECT ` + changeColumns + ` FROM parameter_changes
		ORDER BY changed_at DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter changes: %w", err)
	}
	defer rows.Close()

	return scanChanges(rows)
}

// PruneOlderThan deletes change records older than the cutoff and returns
// the number removed
func (r *Repository) PruneOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM parameter_changes WHERE changed_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune parameter changes: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}

	if removed > 0 {
		r.log.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("Pruned parameter change history")
	}

	return removed, nil
}

// SaveLearnerState upserts the learner memory snapshot for a symbol. The
// memory is stored as a msgpack blob.
func (r *Repository) SaveLearnerState(symbol string, memory domain.LearnerMemory, gamma float64) error {
	blob, err := msgpack.Marshal(&memory)
	if err != nil {
		return fmt.Errorf("failed to encode learner memory: %w", err)
	}

	query := `
		INSERT INTO learner_snapshots (symbol, memory, gamma, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			memory = excluded.memory,
			gamma = excluded.gamma,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.Exec(query, symbol, blob, gamma, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save learner snapshot: %w", err)
	}

	return nil
}

// LoadLearnerState retrieves the learner memory snapshot for a symbol.
// The bool result reports whether a snapshot existed.
func (r *Repository) LoadLearnerState(symbol string) (domain.LearnerMemory, float64, bool, error) {
	var blob []byte
	var gamma float64

	err := r.db.QueryRow(
		`SELECT memory, gamma FROM learner_snapshots WHERE symbol = ?`, symbol,
	).Scan(&blob, &gamma)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LearnerMemory{}, 0, false, nil
	}
	if err != nil {
		return domain.LearnerMemory{}, 0, false, fmt.Errorf("failed to load learner snapshot: %w", err)
	}

	var memory domain.LearnerMemory
	if err := msgpack.Unmarshal(blob, &memory); err != nil {
		return domain.LearnerMemory{}, 0, false, fmt.Errorf("failed to decode learner memory: %w", err)
	}

	return memory, gamma, true, nil
}

// DeleteLearnerState removes the snapshot for a symbol, used when the
// gamma mode changes and accumulated memory no longer applies
func (r *Repository) DeleteLearnerState(symbol string) error {
	if _, err := r.db.Exec(`DELETE FROM learner_snapshots WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to delete learner snapshot: %w", err)
	}
	return nil
}

func scanChanges(rows *sql.Rows) ([]ParameterChange, error) {
	var changes []ParameterChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parameter change: %w", err)
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parameter changes: %w", err)
	}
	return changes, nil
}

func scanChange(rows *sql.Rows) (ParameterChange, error) {
	var (
		change    ParameterChange
		changedAt int64
		mode      string
		sig       int
		interval  string
		oldBid    sql.NullFloat64
		oldAsk    sql.NullFloat64
		oldPLong  sql.NullFloat64
		oldPShort sql.NullFloat64
		oldStop   sql.NullFloat64
	)

	err := rows.Scan(
		&change.ID, &change.Symbol, &changedAt, &mode, &sig,
		&oldBid, &oldAsk, &oldPLong, &oldPShort, &oldStop,
		&change.New.BidSpread, &change.New.AskSpread,
		&change.New.ProfitLong, &change.New.ProfitShort, &change.New.StopLoss,
		&change.Volatility, &interval, &change.Gamma,
	)
	if err != nil {
		return ParameterChange{}, err
	}

	change.ChangedAt = time.Unix(changedAt, 0).UTC()
	change.Significant = sig != 0
	change.VolatilityInterval = domain.Interval(interval)

	parsedMode, err := domain.ParseMode(mode)
	if err != nil {
		return ParameterChange{}, fmt.Errorf("stored gamma mode %q: %w", mode, err)
	}
	change.GammaMode = parsedMode

	if oldBid.Valid {
		change.Old = &SpreadSet{
			BidSpread:   oldBid.Float64,
			AskSpread:   oldAsk.Float64,
			ProfitLong:  oldPLong.Float64,
			ProfitShort: oldPShort.Float64,
			StopLoss:    oldStop.Float64,
		}
	}

	return change, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/modules/history"
)

// HistoryPruneJob deletes parameter change records older than the
// configured retention window
type HistoryPruneJob struct {
	log       zerolog.Logger
	repo      *history.Repository
	retention time.Duration
}

// NewHistoryPruneJob creates a new history prune job
func NewHistoryPruneJob(log zerolog.Logger, repo *history.Repository, retention time.Duration) *HistoryPruneJob {
	return &HistoryPruneJob{
		log:       log.With().Str("job", "history_prune").Logger(),
		repo:      repo,
		retention: retention,
	}
}

// Name returns the job name
func (j *HistoryPruneJob) Name() string {
	return "history_prune"
}

// Run deletes expired change records
func (j *HistoryPruneJob) Run() error {
	cutoff := time.Now().Add(-j.retention)

	deleted, err := j.repo.PruneOlderThan(cutoff)
	if err != nil {
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Pruned parameter change history")
	} else {
		j.log.Debug().Time("cutoff", cutoff).Msg("No expired change records")
	}

	return nil
}

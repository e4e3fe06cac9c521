package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/database"
)

// VacuumJob compacts the history database during quiet hours
type VacuumJob struct {
	log zerolog.Logger
	db  *database.DB
}

// NewVacuumJob creates a new vacuum job
func NewVacuumJob(log zerolog.Logger, db *database.DB) *VacuumJob {
	return &VacuumJob{
		log: log.With().Str("job", "vacuum").Logger(),
		db:  db,
	}
}

// Name returns the job name
func (j *VacuumJob) Name() string {
	return "vacuum"
}

// Run executes VACUUM and logs the space reclaimed
func (j *VacuumJob) Run() error {
	var sizeBefore int64
	if stats, err := j.db.GetStats(); err == nil {
		sizeBefore = stats.SizeBytes
	}

	if err := j.db.Vacuum(); err != nil {
		return err
	}

	if stats, err := j.db.GetStats(); err == nil {
		j.log.Info().
			Float64("size_before_mb", float64(sizeBefore)/1024/1024).
			Float64("size_after_mb", float64(stats.SizeBytes)/1024/1024).
			Float64("space_reclaimed_mb", float64(sizeBefore-stats.SizeBytes)/1024/1024).
			Msg("VACUUM completed")
	}

	return nil
}

// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"
	"time"

	"github.com/aristath/tiller/internal/config"
	"github.com/aristath/tiller/internal/scheduler"
	"github.com/rs/zerolog"
)

const (
	walCheckpointSchedule = "0 */15 * * * *" // every 15 minutes
	vacuumSchedule        = "@weekly"
	historyPruneSchedule  = "@daily"
)

// RegisterJobs creates the scheduler and registers the maintenance jobs.
// Must be called after InitializeServices. The scheduler is not started
// here; main starts it after the engine manager is up.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}
	if container.BackupService == nil {
		return fmt.Errorf("services not initialized")
	}

	container.Scheduler = scheduler.New(log)

	// History prune: retention 0 keeps every parameter change
	if cfg.HistoryRetentionDays > 0 {
		retention := time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour
		prune := scheduler.NewHistoryPruneJob(log, container.HistoryRepo, retention)
		if err := container.Scheduler.AddJob(historyPruneSchedule, prune); err != nil {
			return fmt.Errorf("failed to register history prune job: %w", err)
		}
	}

	// WAL checkpoint keeps the write-ahead log from growing unbounded
	checkpoint := scheduler.NewWALCheckpointJob(log, container.HistoryDB)
	if err := container.Scheduler.AddJob(walCheckpointSchedule, checkpoint); err != nil {
		return fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}

	vacuum := scheduler.NewVacuumJob(log, container.HistoryDB)
	if err := container.Scheduler.AddJob(vacuumSchedule, vacuum); err != nil {
		return fmt.Errorf("failed to register vacuum job: %w", err)
	}

	// Daily backup; R2BackupService may be nil, the job then backs up
	// locally only
	backup := scheduler.NewBackupJob(log, container.BackupService, container.R2BackupService, cfg.Backup.RetentionDays)
	if err := container.Scheduler.AddJob(cfg.Backup.Schedule, backup); err != nil {
		return fmt.Errorf("failed to register backup job: %w", err)
	}

	return nil
}

package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/reliability"
)

// backupTimeout bounds a full backup cycle including the cloud upload
const backupTimeout = 10 * time.Minute

// BackupJob snapshots the history database daily and, when a cloud
// client is configured, uploads and rotates archives in R2
type BackupJob struct {
	log           zerolog.Logger
	backups       *reliability.BackupService
	r2            *reliability.R2BackupService
	retentionDays int
}

// NewBackupJob creates a new backup job. r2 may be nil when cloud
// backups are not configured.
func NewBackupJob(log zerolog.Logger, backups *reliability.BackupService, r2 *reliability.R2BackupService, retentionDays int) *BackupJob {
	return &BackupJob{
		log:           log.With().Str("job", "backup").Logger(),
		backups:       backups,
		r2:            r2,
		retentionDays: retentionDays,
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates today's snapshot if it does not already exist, then
// uploads to R2 and rotates old archives
func (j *BackupJob) Run() error {
	if j.backups.BackedUpToday() {
		j.log.Debug().Msg("Backup already exists for today")
	} else {
		if err := j.backups.RunDailyBackup(); err != nil {
			return err
		}
	}

	if err := j.backups.RotateLocalBackups(j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Local backup rotation failed")
	}

	if j.r2 == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	if err := j.r2.CreateAndUploadBackup(ctx); err != nil {
		return err
	}

	return j.r2.RotateOldBackups(ctx, j.retentionDays)
}

package reliability

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/database"
	"github.com/aristath/tiller/internal/events"
)

// minBackupsToKeep is the floor below which rotation never deletes,
// regardless of age
const minBackupsToKeep = 3

// BackupService creates verified local snapshots of the history database
type BackupService struct {
	db        *database.DB
	backupDir string
	bus       *events.Bus
	log       zerolog.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(db *database.DB, backupDir string, bus *events.Bus, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:        db,
		backupDir: backupDir,
		bus:       bus,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// BackedUpToday reports whether today's snapshot already exists
func (s *BackupService) BackedUpToday() bool {
	path := filepath.Join(s.dailyDir(time.Now()), "history.db")
	_, err := os.Stat(path)
	return err == nil
}

// RunDailyBackup snapshots the database into the dated daily directory,
// verifies the copy and emits BackupCompleted
func (s *BackupService) RunDailyBackup() error {
	s.log.Info().Msg("Starting daily backup")
	startTime := time.Now()

	dir := s.dailyDir(startTime)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	dest := filepath.Join(dir, "history.db")
	if err := s.BackupDatabase(dest); err != nil {
		return err
	}

	if err := s.verifyBackup(dest); err != nil {
		return fmt.Errorf("backup verification failed: %w", err)
	}

	var sizeBytes int64
	if info, err := os.Stat(dest); err == nil {
		sizeBytes = info.Size()
	}

	duration := time.Since(startTime)
	s.log.Info().
		Str("path", dest).
		Int64("size_bytes", sizeBytes).
		Dur("duration_ms", duration).
		Msg("Daily backup completed")

	s.bus.Emit(events.BackupCompleted, "reliability", map[string]interface{}{
		"date":        startTime.Format("2006-01-02"),
		"path":        dest,
		"size_bytes":  sizeBytes,
		"duration_ms": duration.Milliseconds(),
	})

	return nil
}

// BackupDatabase writes a consistent snapshot of the live database to
// destPath using VACUUM INTO, which compacts while it copies
func (s *BackupService) BackupDatabase(destPath string) error {
	// VACUUM INTO refuses to overwrite an existing file
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear stale backup: %w", err)
	}

	quoted := strings.ReplaceAll(destPath, "'", "''")
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return fmt.Errorf("vacuum into failed: %w", err)
	}

	return nil
}

// RotateLocalBackups removes dated daily directories older than the
// retention period. The newest minBackupsToKeep survive regardless of
// age; retentionDays of 0 keeps everything.
func (s *BackupService) RotateLocalBackups(retentionDays int) error {
	dailyRoot := filepath.Join(s.backupDir, "daily")

	entries, err := os.ReadDir(dailyRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read backup directory: %w", err)
	}

	var dates []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := time.Parse("2006-01-02", entry.Name()); err != nil {
			continue
		}
		dates = append(dates, entry.Name())
	}

	// Newest first
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	if len(dates) <= minBackupsToKeep || retentionDays == 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	deleted := 0

	for i, date := range dates {
		if i < minBackupsToKeep {
			continue
		}
		if date >= cutoff {
			continue
		}

		path := filepath.Join(dailyRoot, date)
		if err := os.RemoveAll(path); err != nil {
			s.log.Error().Err(err).Str("path", path).Msg("Failed to delete old backup")
			continue
		}

		s.log.Info().Str("date", date).Msg("Deleted old local backup")
		deleted++
	}

	if deleted > 0 {
		s.log.Info().
			Int("deleted", deleted).
			Int("remaining", len(dates)-deleted).
			Msg("Local backup rotation completed")
	}

	return nil
}

// verifyBackup opens the snapshot and runs an integrity check
func (s *BackupService) verifyBackup(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned: %s", result)
	}

	return nil
}

func (s *BackupService) dailyDir(t time.Time) string {
	return filepath.Join(s.backupDir, "daily", t.Format("2006-01-02"))
}

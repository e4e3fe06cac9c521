// Package di provides dependency injection for database initialization.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/tiller/internal/config"
	"github.com/aristath/tiller/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases creates and migrates the history database.
// The database uses SQLite with WAL mode; parameter changes and learner
// snapshots share one file so a single backup captures both.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	container.HistoryDB = historyDB

	if err := historyDB.Migrate(); err != nil {
		historyDB.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	log.Info().Str("path", historyDB.Path()).Msg("History database initialized")

	return container, nil
}

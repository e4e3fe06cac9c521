// Package di provides dependency injection for repository initialization.
package di

import (
	"fmt"

	"github.com/aristath/tiller/internal/modules/history"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the data access layer on top of the
// databases. Must be called after InitializeDatabases.
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container.HistoryDB == nil {
		return fmt.Errorf("history database not initialized")
	}

	container.HistoryRepo = history.NewRepository(container.HistoryDB.Conn(), log)

	return nil
}

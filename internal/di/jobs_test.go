package di

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterJobs(t *testing.T) {
	cfg := testConfig(t)
	log := zerolog.Nop()

	// Initialize everything first
	container, err := InitializeDatabases(cfg, log)
	require.NoError(t, err)

	t.Cleanup(func() {
		container.HistoryDB.Close()
	})

	require.NoError(t, InitializeRepositories(container, log))
	require.NoError(t, InitializeServices(container, cfg, log))

	err = RegisterJobs(container, cfg, log)
	require.NoError(t, err)
	assert.NotNil(t, container.Scheduler)
}

func TestRegisterJobs_NilContainer(t *testing.T) {
	cfg := testConfig(t)

	err := RegisterJobs(nil, cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestRegisterJobs_RequiresServices(t *testing.T) {
	cfg := testConfig(t)
	log := zerolog.Nop()

	container, err := InitializeDatabases(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { container.HistoryDB.Close() })

	// Services were never initialized, so the backup job has no target
	err = RegisterJobs(container, cfg, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "services")
}

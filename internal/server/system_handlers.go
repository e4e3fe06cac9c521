package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/tiller/internal/database"
	"github.com/aristath/tiller/internal/services"
)

// SystemHandlers handles system-wide monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	historyDB   *database.DB
	manager     *services.Manager
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, historyDB *database.DB, manager *services.Manager) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
		historyDB:   historyDB,
		manager:     manager,
	}
}

// HandleSystemStats handles GET /api/system/stats
func (h *SystemHandlers) HandleSystemStats(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		cpuPercent = []float64{0}
	}

	var memUsedPercent float64
	if memInfo, err := mem.VirtualMemory(); err == nil {
		memUsedPercent = memInfo.UsedPercent
	}

	stats := map[string]interface{}{
		"cpu_percent":      cpuPercent[0],
		"memory_percent":   memUsedPercent,
		"goroutines":       runtime.NumGoroutine(),
		"uptime_hours":     time.Since(h.startupTime).Hours(),
		"engine_symbols":   h.manager.Symbols(),
		"stream_connected": h.manager.StreamConnected(),
		"database":         h.databaseStats(),
	}

	h.writeJSON(w, http.StatusOK, envelope(stats))
}

// databaseStats collects history database statistics. Errors degrade to an
// error field instead of failing the whole stats response.
func (h *SystemHandlers) databaseStats() map[string]interface{} {
	if h.historyDB == nil {
		return map[string]interface{}{"available": false}
	}

	dbStats, err := h.historyDB.GetStats()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to collect database stats")
		return map[string]interface{}{
			"available": true,
			"error":     err.Error(),
		}
	}

	return map[string]interface{}{
		"available":      true,
		"size_bytes":     dbStats.SizeBytes,
		"wal_size_bytes": dbStats.WALSizeBytes,
		"page_count":     dbStats.PageCount,
		"page_size":      dbStats.PageSize,
		"freelist_count": dbStats.FreelistCount,
	}
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

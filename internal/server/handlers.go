package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/tiller/internal/domain"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "tiller",
	})
}

// handleAllParams returns the current quote parameters for every symbol
func (s *Server) handleAllParams(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]domain.QuoteParameters)
	pending := make([]string, 0)

	for _, symbol := range s.manager.Symbols() {
		engine, ok := s.manager.Engine(symbol)
		if !ok {
			continue
		}
		if p, ok := engine.Current(); ok {
			params[symbol] = p
		} else {
			pending = append(pending, symbol)
		}
	}

	s.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"parameters": params,
		"pending":    pending,
		"count":      len(params),
	}))
}

// handleSymbolParams returns the current quote parameters for one symbol
func (s *Server) handleSymbolParams(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	engine, ok := s.manager.Engine(symbol)
	if !ok {
		http.Error(w, "Unknown symbol", http.StatusNotFound)
		return
	}

	params, ok := engine.Current()
	if !ok {
		status := engine.Status()
		s.writeJSON(w, http.StatusServiceUnavailable, envelope(map[string]interface{}{
			"symbol":      symbol,
			"initialized": false,
			"state":       status.State,
			"failures":    status.Failures,
		}))
		return
	}

	s.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"symbol":     symbol,
		"parameters": params,
	}))
}

// handleParamsHistory returns recent parameter changes for one symbol
func (s *Server) handleParamsHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	if _, ok := s.manager.Engine(symbol); !ok {
		http.Error(w, "Unknown symbol", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	changes, err := s.history.ListRecent(symbol, limit)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load parameter history")
		http.Error(w, "Failed to load parameter history", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"symbol":  symbol,
		"changes": changes,
		"count":   len(changes),
	}))
}

// handleEngineStatus returns the controller status for every symbol
func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	symbols := s.manager.Symbols()
	engines := make([]interface{}, 0, len(symbols))

	for _, symbol := range symbols {
		engine, ok := s.manager.Engine(symbol)
		if !ok {
			continue
		}
		engines = append(engines, engine.Status())
	}

	s.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"engines":          engines,
		"count":            len(engines),
		"stream_connected": s.manager.StreamConnected(),
	}))
}

// handleForceRefresh marks a symbol eligible for refresh on the next cycle
func (s *Server) handleForceRefresh(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	engine, ok := s.manager.Engine(symbol)
	if !ok {
		http.Error(w, "Unknown symbol", http.StatusNotFound)
		return
	}

	engine.ForceRefresh()
	s.log.Info().Str("symbol", symbol).Msg("Refresh forced via API")

	s.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"symbol":    symbol,
		"refreshed": true,
	}))
}

// envelope wraps response data with metadata
func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

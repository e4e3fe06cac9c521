// Package handlers provides HTTP handlers for gamma adaptation state.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/market_regime"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// GammaSource exposes per-symbol gamma adaptation state
type GammaSource interface {
	Symbols() []string
	GammaState(symbol string) (domain.GammaState, bool)
	LearnerStatistics(symbol string) (map[string]interface{}, bool)
	ResetLearner(symbol string) bool
}

// Handler handles gamma adaptation HTTP requests
type Handler struct {
	source   GammaSource
	detector *market_regime.Detector
	log      zerolog.Logger
}

// NewHandler creates a new adaptation handler
func NewHandler(source GammaSource, detector *market_regime.Detector, log zerolog.Logger) *Handler {
	return &Handler{
		source:   source,
		detector: detector,
		log:      log.With().Str("handler", "adaptation").Logger(),
	}
}

// HandleGetGamma handles GET /api/adaptation/gamma
func (h *Handler) HandleGetGamma(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]domain.GammaState)
	for _, symbol := range h.source.Symbols() {
		if state, ok := h.source.GammaState(symbol); ok {
			states[symbol] = state
		}
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"gamma": states,
			"count": len(states),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetSymbolGamma handles GET /api/adaptation/gamma/{symbol}
func (h *Handler) HandleGetSymbolGamma(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	state, ok := h.source.GammaState(symbol)
	if !ok {
		http.Error(w, "Unknown symbol", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"symbol": symbol,
			"gamma":  state,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetStatistics handles GET /api/adaptation/statistics/{symbol}
func (h *Handler) HandleGetStatistics(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	stats, ok := h.source.LearnerStatistics(symbol)
	if !ok {
		http.Error(w, "No learner for symbol", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"symbol":     symbol,
			"statistics": stats,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetTrend handles GET /api/adaptation/trend/{symbol}
func (h *Handler) HandleGetTrend(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	trend, known := h.detector.Current(symbol)

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"symbol":   symbol,
			"trend":    string(trend),
			"detected": known,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleResetLearner handles POST /api/adaptation/learner/{symbol}/reset
func (h *Handler) HandleResetLearner(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	if !h.source.ResetLearner(symbol) {
		http.Error(w, "No learner for symbol", http.StatusNotFound)
		return
	}

	h.log.Info().Str("symbol", symbol).Msg("Learner memory reset via API")

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"symbol": symbol,
			"reset":  true,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

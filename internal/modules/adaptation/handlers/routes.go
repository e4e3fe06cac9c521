package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all gamma adaptation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/adaptation", func(r chi.Router) {
		r.Get("/gamma", h.HandleGetGamma)
		r.Get("/gamma/{symbol}", h.HandleGetSymbolGamma)
		r.Get("/statistics/{symbol}", h.HandleGetStatistics)
		r.Get("/trend/{symbol}", h.HandleGetTrend)
		r.Post("/learner/{symbol}/reset", h.HandleResetLearner)
	})
}

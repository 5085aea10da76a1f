package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Delete("/sessions/{token}", h.DeleteSession)

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)
			r.Post("/query", h.Query)
			r.Post("/jobs", h.SubmitJob)
			r.Get("/jobs/{id}", h.GetJob)
			r.Get("/usage", h.Usage)
		})
	})

	return r
}

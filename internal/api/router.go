package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/audit", s.handleListAudit)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Patch("/settings", s.handleUpdateSettings)
				r.Put("/capabilities/{capability}", s.handleSetCapability)
			})
		})

		r.Route("/drivers/{driver}/pairing", func(r chi.Router) {
			r.Post("/", s.handleStartPairing)
			r.Get("/", s.handleGetPairing)
			r.Delete("/", s.handleStopPairing)
			r.Post("/devices", s.handleCreatePairedDevices)
		})
	})

	return r
}

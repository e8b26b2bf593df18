package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(s.recoverer)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such route")
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}
	r.Get(wsPath, s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		// fetch_snapshot for observer resync
		r.Get("/snapshot", s.handleSnapshot)

		r.Route("/entities/{kind}", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Post("/", s.handleCreateEntity)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEntity)
				r.Patch("/", s.handleProposeMutation)
				r.Delete("/", s.handleRemoveEntity)
				r.Get("/history", s.handleEntityHistory)
			})
		})

		r.Route("/aggregates", func(r chi.Router) {
			r.Get("/summary", s.handleSummary)
			r.Get("/histograms", s.handleHistograms)
			r.Get("/devices", s.handleAllDeviceCounts)
			r.Get("/devices/{id}", s.handleDeviceCounts)
		})

		r.Get("/signals", s.handleSignals)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", s.handleHealth)

		// Door sensor endpoints. Field devices call update, handshake,
		// and logs; the rest serve the admin surfaces.
		r.Route("/sensors", func(r chi.Router) {
			r.Get("/", s.handleListSensors)
			r.Post("/", s.handleCreateSensor)
			r.Post("/update", s.handleSensorUpdate)
			r.Post("/handshake", s.handleHandshake)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteSensor)
				r.Post("/arm", s.handleArmSensor)
				r.Post("/disarm", s.handleDisarmSensor)
				r.Post("/logs", s.handleIngestDeviceLogs)
				r.Get("/logs", s.handleListDeviceLogs)
			})
		})

		// Alarm relay endpoints
		r.Route("/alarms", func(r chi.Router) {
			r.Get("/", s.handleListAlarms)
			r.Post("/", s.handleCreateAlarm)
			r.Post("/on", s.handleAlarmsOn)
			r.Post("/off", s.handleAlarmsOff)
			r.Delete("/{id}", s.handleDeleteAlarm)
		})

		// Building-wide arm/disarm
		r.Route("/buildings/{building}", func(r chi.Router) {
			r.Post("/arm", s.handleArmBuilding)
			r.Post("/disarm", s.handleDisarmBuilding)
		})

		// Full registry snapshot and event history
		r.Get("/devices", s.handleSnapshot)
		r.Get("/events", s.handleRecentEvents)

		// WebSocket snapshot feed
		r.Get("/ws", s.handleWebSocket)
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

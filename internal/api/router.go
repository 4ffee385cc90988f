package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check of the health endpoint.
const healthCheckTimeout = 3 * time.Second

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
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/device", s.handleGetDevice)

		r.Get("/snapshot", s.handleGetSnapshot)
		r.Post("/refresh", s.handleRefresh)

		r.Route("/sensors", func(r chi.Router) {
			r.Get("/", s.handleListSensors)
			r.Get("/{id}", s.handleGetSensor)
		})

		r.Route("/actors", func(r chi.Router) {
			r.Get("/", s.handleListActors)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetActor)
				r.Put("/state", s.handleSetActorState)
				r.Post("/toggle", s.handleToggleActor)
			})
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/polls", s.handleListPolls)
			r.Get("/commands", s.handleListCommands)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the bridge health status.
//
// The response is 200 when the coordinator holds a confirmed snapshot and
// 503 otherwise. Dependency checks are reported without changing the code.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.coord.Status()

	checks := make(map[string]string, len(s.checks))
	for name, checker := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		if err := checker.HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
		} else {
			checks[name] = "ok"
		}
		cancel()
	}

	body := map[string]any{
		"status":      "ok",
		"version":     s.version,
		"ready":       status.Ready,
		"last_poll":   nullableTime(status.LastSuccess),
		"last_error":  status.LastError,
		"checks":      checks,
		"uptime_secs": int64(time.Since(s.startTime).Seconds()),
	}

	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}
	writeJSON(w, code, body)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// Package httpapi exposes a small admin HTTP surface over a running
// engine: health, per-group queue stats, and prometheus metrics.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/deferrable-run/deferrable/pkg/deferrable"
)

// NewRouter builds the admin HTTP surface. auth gates every route
// except /healthz, which an orchestrator's liveness probe must be able
// to reach unauthenticated.
func NewRouter(engine *deferrable.Engine, auth AuthFinder) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(auth))
		r.Get("/stats/{group}", handleStats(engine))
		r.Handle("/metrics", promhttp.Handler())
	})

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	avg, err := load.Avg()
	body := map[string]any{"status": "ok"}
	if err == nil {
		body["load1"] = avg.Load1
		body["load5"] = avg.Load5
		body["load15"] = avg.Load15
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func handleStats(engine *deferrable.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group := chi.URLParam(r, "group")
		stats, err := engine.Stats(r.Context(), group)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

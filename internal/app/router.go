// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/graphscript/evalserver/internal/adapter/httpserver"
	"github.com/graphscript/evalserver/internal/adapter/observability"
	"github.com/graphscript/evalserver/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the admin/ops HTTP handler: health, readiness,
// Prometheus metrics, and (if admin credentials are configured) the
// authenticated request-introspection API. Script evaluation itself never
// goes through this router; it runs on the websocket channel.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	if cfg.AdminEnabled() {
		r.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
			admin, err := httpserver.NewAdminServer(cfg, srv)
			if err == nil {
				wr.Post("/admin/token", admin.AdminTokenHandler())
				wr.Get("/admin/api/status", admin.AdminStatusHandler())
				wr.Get("/admin/api/stats", admin.AdminStatsHandler())
				wr.Get("/admin/api/requests", admin.AdminRequestsHandler())
				wr.Get("/admin/api/requests/{id}", admin.AdminRequestDetailHandler())
				wr.Get("/admin/dashboard", admin.AdminAuthRequired(srv.MetricsHandler()))
			}
		})
	}

	return httpserver.SecurityHeaders(r)
}

// Package httpserver contains the admin/ops HTTP surface: health, readiness,
// Prometheus metrics, and an authenticated introspection API over the
// evaluation audit trail. Script evaluation itself happens on the websocket
// channel (internal/channel), not through this package.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/graphscript/evalserver/internal/adapter/repo/postgres"
	"github.com/graphscript/evalserver/internal/config"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// AuditReader is the subset of postgres.AuditRepo the admin API consults.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]postgres.AuditRecord, error)
}

// Server holds the adapters the admin/ops HTTP surface reads from.
type Server struct {
	cfg    config.Config
	pool   Pinger
	audit  AuditReader
	checks []ReadinessCheck
}

// NewServer constructs a Server. Additional readiness checks (redis, engine
// pool, broker connectivity, ...) are appended beyond the database check.
func NewServer(cfg config.Config, pool Pinger, audit AuditReader, checks ...ReadinessCheck) *Server {
	return &Server{cfg: cfg, pool: pool, audit: audit, checks: checks}
}

// HealthzHandler reports liveness unconditionally once the process is serving.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

// ReadyzHandler reports readiness: the database must be reachable, plus any
// additional checks supplied at construction (redis, broker, ...).
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.ops")
		ctx, span := tracer.Start(r.Context(), "Server.ReadyzHandler")
		defer span.End()

		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		if s.pool != nil {
			if err := s.pool.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "reason": "db: " + err.Error()})
				return
			}
		}
		for _, check := range s.checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "reason": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}
}

// MetricsHandler exposes the custom JSON dashboard summary (as opposed to
// the Prometheus exposition format served separately at /metrics).
func (s *Server) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.getDashboardStats(r.Context()))
	}
}

// dashboardStats summarizes recent request outcomes for the admin dashboard.
type dashboardStats struct {
	TotalRecent int            `json:"totalRecent"`
	ByCode      map[string]int `json:"byCode"`
}

func (s *Server) getDashboardStats(ctx context.Context) dashboardStats {
	stats := dashboardStats{ByCode: map[string]int{}}
	if s.audit == nil {
		return stats
	}
	recs, err := s.audit.Recent(ctx, 500)
	if err != nil {
		return stats
	}
	stats.TotalRecent = len(recs)
	for _, rec := range recs {
		stats.ByCode[string(rec.Code)]++
	}
	return stats
}

// requestSummary is the admin API's JSON view of one audited request.
type requestSummary struct {
	RequestID  string    `json:"requestId"`
	Code       string    `json:"code"`
	ElapsedMS  int64     `json:"elapsedMs"`
	BatchCount int       `json:"batchCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Server) getRecentRequests(ctx context.Context, limit int) []requestSummary {
	if s.audit == nil {
		return nil
	}
	recs, err := s.audit.Recent(ctx, limit)
	if err != nil {
		return nil
	}
	out := make([]requestSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, requestSummary{
			RequestID:  rec.RequestID,
			Code:       string(rec.Code),
			ElapsedMS:  rec.ElapsedMS,
			BatchCount: rec.BatchCount,
			CreatedAt:  rec.CreatedAt,
		})
	}
	return out
}

func (s *Server) getRequestDetail(ctx context.Context, requestID string) (requestSummary, bool) {
	for _, r := range s.getRecentRequests(ctx, 1000) {
		if r.RequestID == requestID {
			return r, true
		}
	}
	return requestSummary{}, false
}

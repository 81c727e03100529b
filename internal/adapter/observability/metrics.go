// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/graphscript/evalserver/internal/domain"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// EvalDuration is the C6 Metrics Hook timer: "<server-scope>.op.eval"
	// (spec §6), measuring per-request evaluation spans from submission
	// through the terminal frame.
	EvalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evalserver_op_eval_duration_seconds",
			Help:    "Duration of a script-evaluation request, from submission to terminal response",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
	// EvalResponsesTotal counts terminal responses by status code.
	EvalResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalserver_op_eval_responses_total",
			Help: "Total number of terminal eval responses by status code",
		},
		[]string{"code"},
	)
	// BackpressureEventsTotal counts how many times the streamer observed a
	// non-writable channel (spec §4.3 step 4, "warnedBackpressure").
	BackpressureEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalserver_backpressure_events_total",
			Help: "Total number of requests that observed channel backpressure at least once",
		},
		[]string{"op"},
	)
	// RollbacksTotal counts managed-transaction rollbacks by triggering error kind.
	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalserver_rollbacks_total",
			Help: "Total number of managed-transaction rollbacks by error kind",
		},
		[]string{"reason"},
	)
	// EngineWorkerPoolInUse gauges the number of busy script-executor workers.
	EngineWorkerPoolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "evalserver_engine_workers_in_use",
			Help: "Number of script-executor workers currently evaluating a request",
		},
	)
	// CircuitBreakerStatus gauges a named circuit breaker's raw
	// CircuitBreakerState value by name and call site.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evalserver_circuit_breaker_status",
			Help: "Circuit breaker state by name and call site (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name", "site"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(EvalDuration)
	prometheus.MustRegister(EvalResponsesTotal)
	prometheus.MustRegister(BackpressureEventsTotal)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(EngineWorkerPoolInUse)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// RecordCircuitBreakerStatus records a circuit breaker's current state,
// labeled by its name and the call site that observed it.
func RecordCircuitBreakerStatus(name, site string, state int) {
	CircuitBreakerStatus.WithLabelValues(name, site).Set(float64(state))
}

// HTTPMetricsMiddleware records Prometheus metrics for each admin/ops
// HTTP request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EvalMetricsHook implements evaluator.MetricsHook over the package-level
// Prometheus collectors above.
type EvalMetricsHook struct{}

// ObserveEval records elapsed time and bumps the per-code response counter.
func (EvalMetricsHook) ObserveEval(elapsed time.Duration, code domain.StatusCode) {
	EvalDuration.Observe(elapsed.Seconds())
	EvalResponsesTotal.WithLabelValues(string(code)).Inc()
}

// RecordBackpressure increments the backpressure counter for op (called
// once per request, the first time backpressure is observed).
func RecordBackpressure(op string) {
	BackpressureEventsTotal.WithLabelValues(op).Inc()
}

// RecordRollback increments the rollback counter for reason.
func RecordRollback(reason string) {
	RollbacksTotal.WithLabelValues(reason).Inc()
}

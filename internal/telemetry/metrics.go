// Package telemetry provides application-level observability for the identity and
// tenant management service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are served
// by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<ITM_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Permission resolution latency and authorization decisions
//   - Onboarding outcomes and compensation actions
//   - Identity provider requests and token fetches
//   - Audit write failures and the unresolved failure ledger gauge
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// No metric carries a tenant, user or permission label. Those values are unbounded
// and belong in logs and the audit trail.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Authorization metrics.
//
// PermissionResolutionDuration is labelled by op: resolve, has_any or has_all.
// Memoized answers are included, so a drop in p50 after a deploy usually means more
// requests reuse one resolution.
//
// AuthorizationDecisionsTotal is labelled by outcome: allowed, forbidden,
// unauthorized or error.
//
// Example PromQL queries:
//   - Forbidden ratio:  sum(rate(authorization_decisions_total{outcome="forbidden"}[5m])) / sum(rate(authorization_decisions_total[5m]))
var (
	PermissionResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "permission_resolution_duration_seconds",
			Help:    "Latency of permission resolution, by operation.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
		[]string{"op"},
	)

	AuthorizationDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_decisions_total",
			Help: "Total number of authorization gate decisions, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Onboarding metrics, recorded by the onboarding saga.
//
// OnboardingOutcomesTotal is labelled by outcome: completed, conflict, rolled_back or
// cleanup_failed. Any increase of cleanup_failed leaves an unresolved ledger entry.
//
// CompensationsTotal is labelled by step (the undo action) and result (ok or failed).
//
// Example PromQL queries:
//   - Alert expression:  increase(onboarding_outcomes_total{outcome="cleanup_failed"}[1h]) > 0
var (
	OnboardingOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_outcomes_total",
			Help: "Total number of onboarding attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_compensations_total",
			Help: "Total number of compensation actions executed, by step and result.",
		},
		[]string{"step", "result"},
	)
)

// Identity provider metrics.
//
// IdPRequestsTotal is labelled by op (create_org, create_user, ...) and status, where
// status is the HTTP status code or "error" for transport failures.
//
// TokenFetchesTotal counts client-credentials token requests, by result. With a
// healthy cache the rate of result="ok" tracks the token lifetime, not request volume.
var (
	IdPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idp_requests_total",
			Help: "Total number of identity provider admin API requests, by operation and status.",
		},
		[]string{"op", "status"},
	)

	TokenFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idp_token_fetches_total",
			Help: "Total number of identity provider access token fetches, by result.",
		},
		[]string{"result"},
	)
)

// AuditWriteFailuresTotal counts audit records that could not be persisted or shipped,
// by sink (database or a shipper type). Audit writes never fail the calling operation,
// so this counter is the only place such losses surface.
var AuditWriteFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Total number of audit records that failed to persist or ship, by sink.",
	},
	[]string{"sink"},
)

// FailureLedgerUnresolved is sampled by the ledger reporter job.
//
// Example PromQL queries:
//   - Alert expression:  failure_ledger_unresolved > 0
var FailureLedgerUnresolved = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "failure_ledger_unresolved",
		Help: "Number of onboarding failures awaiting manual cleanup.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every interval and updates the DBOpenConnections gauge. It exits when
// ctx is cancelled or the database becomes unreachable.
//
//	telemetry.StartDBStatsCollector(ctx, database.DB, 30*time.Second)
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					if ctx.Err() == nil {
						slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					}
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}

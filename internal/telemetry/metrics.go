// Package telemetry provides application-level observability for the audit trail.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and served
// by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<AUD_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit writes and write failures, by action and failure reason
//   - Audit queries and query latency, by view
//   - Shipper delivery failures and export archive uploads
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// HTTP metrics, labelled by method, route template and status code.
// The path label holds the Gin route template (e.g. /api/v1/audit/logs/:id).
//
// Example PromQL queries:
//   - Request rate:   rate(http_requests_total[5m])
//   - p99 per route:  histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
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

// Audit write metrics.
//
// AuditRecordsWrittenTotal counts records appended to the trail, by action.
// AuditWriteFailuresTotal counts rejected or failed writes, by reason
// (unauthorized, profile_not_found, validation, persistence).
//
// Example PromQL queries:
//   - Failed logins per hour:   increase(audit_records_written_total{action="failed_login"}[1h])
//   - Persistence alert:        increase(audit_write_failures_total{reason="persistence"}[10m]) > 0
var (
	AuditRecordsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_written_total",
			Help: "Total number of audit records appended, by action.",
		},
		[]string{"action"},
	)

	AuditWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of audit writes that were rejected or failed, by reason.",
		},
		[]string{"reason"},
	)
)

// Audit read metrics, labelled by view (activity, login_history, export_activity, ...).
var (
	AuditQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_queries_total",
			Help: "Total number of audit trail queries, by view.",
		},
		[]string{"view"},
	)

	AuditQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audit_query_duration_seconds",
			Help:    "Latency of audit trail queries, by view.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"view"},
	)
)

// AuditShipFailuresTotal counts records an external shipper failed to deliver, by shipper type.
// Shipping is best effort, so this counter is the only durable trace of a lost delivery.
var AuditShipFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_ship_failures_total",
		Help: "Total number of audit records a shipper failed to deliver, by shipper type.",
	},
	[]string{"shipper"},
)

// ExportArchivesTotal counts CSV exports archived to object storage, by backend and outcome.
var ExportArchivesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_export_archives_total",
		Help: "Total number of exported CSV files archived, by backend and outcome.",
	},
	[]string{"backend", "outcome"},
)

// DBOpenConnections tracks open connections in the sql.DB pool, sampled every 30 seconds.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples pool statistics every 30 seconds until ctx is
// cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}

// CounterValue reads the current value of cv for the given label set, or 0 when
// that series has not been touched. Used by diagnostics and tests.
func CounterValue(cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()
	var value float64
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			value = dm.GetCounter().GetValue()
		}
	}
	return value
}

// labelsMatch returns true when all entries in want appear in got
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

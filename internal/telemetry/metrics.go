/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing
// for the coverage engine.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GenerationRunsTotal counts regenerate/extend runs per customer and kind.
	GenerationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_generation_runs_total",
		Help: "Schedule generation runs by customer and kind (regenerate|extend).",
	}, []string{"customer", "kind"})

	// GenerationErrorsTotal counts failed generation runs by error site.
	GenerationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_generation_errors_total",
		Help: "Schedule generation failures by customer and stage.",
	}, []string{"customer", "stage"})

	// GenerationDuration observes end-to-end generation latency.
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vigil_generation_duration_seconds",
		Help:    "Duration of schedule generation runs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"customer"})

	// SlicesGeneratedTotal counts slices written per customer and role.
	SlicesGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_slices_generated_total",
		Help: "Schedule slices written by customer and role.",
	}, []string{"customer", "role"})

	// CoverageQueriesTotal counts coverage lookups by result.
	CoverageQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_coverage_queries_total",
		Help: "Current-coverage queries by result (hit|gap|error).",
	}, []string{"result"})

	// HorizonTicksTotal counts background horizon-maintenance ticks.
	HorizonTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_horizon_ticks_total",
		Help: "Background horizon maintenance ticks.",
	})

	// HorizonErrorsTotal counts background maintenance failures.
	HorizonErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_horizon_errors_total",
		Help: "Background horizon maintenance failures by customer and stage.",
	}, []string{"customer", "stage"})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_api_requests_total",
		Help: "HTTP requests by method, endpoint, and status code.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vigil_api_request_duration_seconds",
		Help:    "HTTP request duration by method, endpoint, and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	// LeaderElectionStatus reports whether this instance holds the lease.
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vigil_leader_election_status",
		Help: "1 when this instance is the leader, 0 otherwise.",
	}, []string{"instance"})

	// LeaderElectionChanges counts leadership transitions.
	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_leader_election_changes_total",
		Help: "Leadership transitions by instance and direction (acquired|lost).",
	}, []string{"instance", "change"})

	// DatabaseQueryDuration observes query latency by operation and table.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vigil_database_query_duration_seconds",
		Help:    "Database query duration by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts database errors by operation.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_database_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "kind"})

	// DatabaseConnectionsActive gauges open connections in the pool.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_database_connections_active",
		Help: "Open database connections.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

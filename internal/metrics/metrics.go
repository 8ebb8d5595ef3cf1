// ERPSync - ERP Data Synchronization and Caching Engine
// Copyright 2026 J. Falke (jmfalke)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmfalke/erpsync

// Package metrics provides Prometheus instrumentation for ERPSync:
// cache efficiency, remote ERP call volume (the credit-limited resource),
// sync diff outcomes, bulk run accounting, database query latency, and the
// HTTP API surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache Metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erpsync_cache_hits_total",
			Help: "Total number of cache hits (fresh entries)",
		},
	)

	CacheStaleHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erpsync_cache_stale_hits_total",
			Help: "Total number of cache hits served stale while revalidating",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erpsync_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erpsync_cache_evictions_total",
			Help: "Total number of entries evicted past the expiry window",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erpsync_cache_entries",
			Help: "Current number of cached entries",
		},
	)

	DedupedFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erpsync_deduped_fetches_total",
			Help: "Remote calls avoided because the source was already fetched this session",
		},
	)

	// Remote ERP API Metrics
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erpsync_remote_calls_total",
			Help: "Total number of real remote ERP API calls",
		},
		[]string{"source"},
	)

	RemoteCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "erpsync_remote_call_duration_seconds",
			Help:    "Duration of remote ERP API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RemoteCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erpsync_remote_call_errors_total",
			Help: "Total number of failed remote ERP API calls",
		},
		[]string{"type"}, // "transport", "remote", "decode"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erpsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erpsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Sync Metrics
	SyncBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "erpsync_sync_batch_size",
			Help:    "Number of records per upsert batch",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		},
	)

	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erpsync_sync_records_total",
			Help: "Records reconciled by sync passes",
		},
		[]string{"action"}, // "inserted", "updated", "deleted", "dropped"
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "erpsync_sync_duration_seconds",
			Help:    "Duration of sync passes in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erpsync_sync_errors_total",
			Help: "Total number of sync errors",
		},
		[]string{"stage"}, // "fetch", "load_keys", "upsert", "soft_delete"
	)

	// Bulk Orchestrator Metrics
	BulkRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erpsync_bulk_runs_total",
			Help: "Total number of bulk runs started",
		},
	)

	BulkTenantOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erpsync_bulk_tenant_outcomes_total",
			Help: "Terminal tenant job states across bulk runs",
		},
		[]string{"status"}, // "success", "error", "cancelled"
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erpsync_duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erpsync_duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erpsync_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erpsync_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	// WebSocket Metrics
	WSConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erpsync_websocket_clients",
			Help: "Current number of connected websocket clients",
		},
	)
)

// RecordSyncOperation records the standard metric set for a finished sync
// pass: duration plus per-action record counters.
func RecordSyncOperation(duration time.Duration, inserted, updated, deleted, dropped int) {
	SyncDuration.Observe(duration.Seconds())
	SyncRecords.WithLabelValues("inserted").Add(float64(inserted))
	SyncRecords.WithLabelValues("updated").Add(float64(updated))
	SyncRecords.WithLabelValues("deleted").Add(float64(deleted))
	SyncRecords.WithLabelValues("dropped").Add(float64(dropped))
}

// ObserveDBQuery times a database operation and records errors.
func ObserveDBQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ModificationsProcessed counts modifications reaching a status, by kind.
	ModificationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotwise_modifications_processed_total",
		Help: "Modifications processed by kind and resulting status",
	}, []string{"kind", "status"})

	// PassDuration tracks one analysis pass over a machine.
	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slotwise_pass_duration_seconds",
		Help:    "Duration of one analysis pass over a machine",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	// SlotWrites counts persisted and deleted slots by kind.
	SlotWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotwise_slot_writes_total",
		Help: "Slot rows written or deleted by slot kind and operation",
	}, []string{"kind", "operation"})

	// SummaryRowsFlushed counts summary deltas written.
	SummaryRowsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotwise_summary_rows_flushed_total",
		Help: "Summary deltas flushed to storage",
	})

	// DynamicEndsPending is the number of unresolved dynamic ends seen in the
	// last pass, per machine.
	DynamicEndsPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slotwise_dynamic_ends_pending",
		Help: "Unresolved dynamic reason ends per machine",
	}, []string{"machine"})

	// MachineLockContention counts machines skipped because another
	// instance held their lease.
	MachineLockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotwise_machine_lock_contention_total",
		Help: "Machines skipped because their lease was held elsewhere",
	})

	// DatabaseQueryDuration times statements per schema table.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slotwise_database_query_duration_seconds",
		Help:    "Database statement duration by operation and table",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotwise_database_errors_total",
		Help: "Failed database statements by operation and table",
	}, []string{"operation", "table"})

	// DatabaseRowsAffected counts rows written, mostly slot rows.
	DatabaseRowsAffected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotwise_database_rows_affected_total",
		Help: "Rows created, updated or deleted by operation and table",
	}, []string{"operation", "table"})

	DatabaseConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slotwise_database_connections",
		Help: "Pooled database connections by state",
	}, []string{"state"})

	DatabaseConnectionWaits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slotwise_database_connection_waits",
		Help: "Connection requests that waited for a free connection since start",
	})

	// HTTPRequests counts requests by route pattern, status class and the
	// machine named in the route, if any.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotwise_http_requests_total",
		Help: "HTTP requests by route, status class and machine",
	}, []string{"route", "code", "machine"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slotwise_http_request_duration_seconds",
		Help:    "HTTP request duration by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	HTTPInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slotwise_http_in_flight_requests",
		Help: "HTTP requests being served",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package metrics registers the Prometheus instrumentation for the
// SafeHorizon pipeline: HTTP latency, ingest and scoring throughput,
// alert and broadcast fan-out, hub delivery, and the E-FIR chain.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface.

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safehorizon_http_requests_total",
			Help: "Total HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safehorizon_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// Ingest and scoring.

	LocationsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safehorizon_locations_ingested_total",
			Help: "Location samples accepted, including idempotent replays",
		},
	)

	LocationsCollapsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safehorizon_locations_collapsed_total",
			Help: "Samples collapsed into a recent row by the 2s window",
		},
	)

	ScoreComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safehorizon_score_compute_seconds",
			Help:    "Safety score computation time, store queries included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	ScoreBackfills = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safehorizon_score_backfills_total",
			Help: "Null safety scores repaired by the rescorer",
		},
	)

	// Alerts.

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safehorizon_alerts_created_total",
			Help: "Alerts created by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	AlertsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safehorizon_alerts_deduplicated_total",
			Help: "Alert creations suppressed by the 30-minute dedup window",
		},
	)

	// Pub/sub hub.

	HubPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safehorizon_hub_published_total",
			Help: "Events published to the hub by channel namespace",
		},
		[]string{"namespace"},
	)

	HubDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safehorizon_hub_dropped_total",
			Help: "Events dropped on full subscriber queues",
		},
	)

	HubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safehorizon_hub_subscribers",
			Help: "Current hub subscriptions across all channels",
		},
	)

	// Broker bridge.

	BrokerPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safehorizon_broker_published_total",
			Help: "Hub envelopes forwarded to the broker",
		},
	)

	BrokerReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safehorizon_broker_received_total",
			Help: "Hub envelopes received from the broker, echoes included",
		},
	)

	BrokerBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safehorizon_broker_breaker_state",
			Help: "Broker publish circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	// WebSocket gateway.

	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "safehorizon_ws_sessions_active",
			Help: "Connected WebSocket sessions by role",
		},
		[]string{"role"},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safehorizon_ws_sessions_closed_total",
			Help: "WebSocket session closures by close code",
		},
		[]string{"code"},
	)

	ReplayFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safehorizon_ws_replay_frames_total",
			Help: "Catch-up frames emitted for since= reconnections",
		},
	)

	// Broadcast dispatcher.

	BroadcastLegs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safehorizon_broadcast_legs_total",
			Help: "Broadcast delivery legs by transport and outcome",
		},
		[]string{"leg", "status"},
	)

	BroadcastsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safehorizon_broadcasts_dispatched_total",
			Help: "Broadcasts dispatched by targeting type",
		},
		[]string{"type"},
	)

	// Notification outbox.

	NotifyDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safehorizon_notify_delivered_total",
			Help: "Outbox deliveries by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	NotifyOutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safehorizon_notify_outbox_depth",
			Help: "Pending entries in the notification outbox",
		},
	)

	// E-FIR chain.

	EFIRIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safehorizon_efir_issued_total",
			Help: "E-FIR records issued",
		},
	)

	EFIRVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safehorizon_efir_verifications_total",
			Help: "E-FIR verification outcomes",
		},
		[]string{"result"},
	)

	// Geofence snapshot.

	GeofenceZones = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safehorizon_geofence_zones",
			Help: "Zones in the current geofence snapshot",
		},
	)

	GeofenceRefreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safehorizon_geofence_refresh_failures_total",
			Help: "Snapshot refreshes that failed and kept the stale snapshot",
		},
	)

	// Database.

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safehorizon_db_query_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safehorizon_db_errors_total",
			Help: "Store operation failures by operation",
		},
		[]string{"operation"},
	)
)

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveDBQuery records one store operation.
func ObserveDBQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		DBErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAlertCreated records a created alert.
func RecordAlertCreated(kind, severity string) {
	AlertsCreated.WithLabelValues(kind, severity).Inc()
}

// RecordSessionClosed records a WebSocket closure by close code.
func RecordSessionClosed(code int) {
	SessionsClosed.WithLabelValues(strconv.Itoa(code)).Inc()
}

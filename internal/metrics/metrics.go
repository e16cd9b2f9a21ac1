// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

// Package metrics registers Parley's Prometheus collectors on the default
// registry. They are served by the /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeIgnored  = "ignored"
)

var (
	// Connection registry
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_connections_active",
			Help: "Number of live websocket connections",
		},
	)

	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_rooms_active",
			Help: "Number of conversations with at least one joined connection",
		},
	)

	SlowClientsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_slow_clients_dropped_total",
			Help: "Connections dropped because their send buffer was full",
		},
	)

	HandshakeRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_handshake_rejections_total",
			Help: "Websocket handshakes refused, by reason",
		},
		[]string{"reason"}, // configuration, invalid_credential, unknown_user, store
	)

	StoreUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_store_up",
			Help: "Whether the last durable store ping succeeded (1) or failed (0)",
		},
	)

	// Conversation gateway
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_events_total",
			Help: "Inbound client events, by type and outcome",
		},
		[]string{"event", "outcome"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_operation_duration_seconds",
			Help:    "Duration of gateway operations",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"event"},
	)

	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_messages_persisted_total",
			Help: "Messages written to the durable store",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_store_errors_total",
			Help: "Durable store failures surfaced to clients as infrastructure errors",
		},
		[]string{"event"},
	)

	// Fanout
	FanoutPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_fanout_published_total",
			Help: "Deliveries published to the cluster bus, by outcome",
		},
		[]string{"outcome"}, // ok, error, fallback
	)

	FanoutReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_fanout_received_total",
			Help: "Deliveries received from the cluster bus",
		},
	)

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_fanout_breaker_state",
			Help: "Fanout circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "HTTP requests, by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordEvent counts one inbound event and its latency.
func RecordEvent(event, outcome string, duration time.Duration) {
	EventsTotal.WithLabelValues(event, outcome).Inc()
	OperationDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// RecordHTTPRequest records a completed HTTP request.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

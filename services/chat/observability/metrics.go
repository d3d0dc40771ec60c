// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the chat pipeline.
//
// # Description
//
// Metrics cover the streaming path end to end:
//   - Request counters (by provider, status)
//   - Swallowed-record counter (malformed stream payloads dropped by the
//     normalizer — counted, never silently discarded)
//   - Latency histograms (time to first token, total stream duration)
//   - Active stream gauge
//   - Error counters by taxonomy code
//
// # Integration
//
// The gateway exposes these via /metrics. The CLI registers them but does
// not serve them.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "omnichat"

const streamingSubsystem = "streaming"

// Metrics holds all Prometheus metrics for the streaming chat pipeline.
type Metrics struct {
	// RequestsTotal counts chat requests by provider and final status.
	// Labels: provider, status (completed, cancelled, errored)
	RequestsTotal *prometheus.CounterVec

	// SwallowedRecordsTotal counts stream records dropped because their
	// payload failed to decode. Dropping is the contract (a single bad
	// chunk must not abort a good stream) but every drop is counted.
	// Labels: provider
	SwallowedRecordsTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to the first merged delta.
	// Labels: provider
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: provider, status
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active streaming sessions.
	ActiveStreams prometheus.Gauge

	// ErrorsTotal counts errors by taxonomy code.
	// Labels: provider, error_code (configuration, upstream_http,
	// stream_error, timeout, internal)
	ErrorsTotal *prometheus.CounterVec

	// DeltasTotal counts normalized delta events by kind.
	// Labels: provider, kind
	DeltasTotal *prometheus.CounterVec
}

// DefaultMetrics is the process-wide metrics instance, set by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics creates the default metrics on the global Prometheus registry.
// Call once at startup; calling twice panics on duplicate registration.
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates a metrics set on the given registerer. Tests pass a
// private registry to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total chat requests by provider and final status",
			},
			[]string{"provider", "status"},
		),

		SwallowedRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "swallowed_records_total",
				Help:      "Stream records dropped due to undecodable payloads",
			},
			[]string{"provider"},
		),

		TimeToFirstTokenSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request start to first merged delta",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"provider"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider", "status"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming sessions",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total streaming errors by provider and taxonomy code",
			},
			[]string{"provider", "error_code"},
		),

		DeltasTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "deltas_total",
				Help:      "Normalized delta events by provider and kind",
			},
			[]string{"provider", "kind"},
		),
	}
}

// =============================================================================
// Status and Error Codes
// =============================================================================

// Status labels a finished session for metrics.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusErrored   Status = "errored"
)

// ErrorCode categorizes an error for metrics, mirroring the error taxonomy.
type ErrorCode string

const (
	// ErrorCodeConfiguration is a missing credential, caught before any
	// network call.
	ErrorCodeConfiguration ErrorCode = "configuration"

	// ErrorCodeUpstreamHTTP is a non-2xx initial response.
	ErrorCodeUpstreamHTTP ErrorCode = "upstream_http"

	// ErrorCodeStreamError is an explicit mid-stream provider error.
	ErrorCodeStreamError ErrorCode = "stream_error"

	// ErrorCodeTimeout is an idle-read timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeInternal is anything else.
	ErrorCodeInternal ErrorCode = "internal"
)

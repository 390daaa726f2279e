// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors created by [NewMetrics].
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "rcon").
	Namespace string

	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string

	// ConstLabels are constant labels added to all metrics, e.g. the server name.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Metrics holds the Prometheus collectors a [Conn] reports to. A nil *Metrics is valid and records
// nothing. One Metrics value may be shared by many connections.
type Metrics struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration prometheus.Histogram
	pending         prometheus.Gauge
	connections     *prometheus.CounterVec
}

// NewMetrics creates and registers the client collectors.
func NewMetrics(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "rcon"
	}
	if config.Subsystem == "" {
		config.Subsystem = "client"
	}
	if config.Buckets == nil {
		config.Buckets = prometheus.DefBuckets
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_sent_total",
			Help:        "Total number of RCON packets written to servers",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_received_total",
			Help:        "Total number of RCON packets decoded from servers",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Total number of settled RCON requests by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),

		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_duration_seconds",
			Help:        "Time from writing a request to settling it",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pending_requests",
			Help:        "Number of requests awaiting a response",
			ConstLabels: config.ConstLabels,
		}),

		connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total number of connection attempts by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),
	}
}

func (m *Metrics) packetSent(t PacketType) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) packetReceived(t PacketType) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) requestStarted() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

func (m *Metrics) requestSettled(start time.Time, err error) {
	if m == nil {
		return
	}
	m.pending.Dec()
	m.requestDuration.Observe(time.Since(start).Seconds())
	m.requests.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) connectionAttempt(err error) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(resultLabel(err)).Inc()
}

// Package metrics records auction and connection counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Close outcomes recorded by RecordAuctionClosed
const (
	OutcomeConfirmed = "confirmed"
	OutcomeTimedOut  = "timed_out"
	OutcomeNoBids    = "no_bids"
)

// Collector defines the interface for collecting auction metrics
type Collector interface {
	RecordBid(result string)
	RecordAuctionClosed(outcome string)
	RecordMalformed()
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordBroadcast(recipients int)
	RecordSlowConsumerDropped()
}

// NoOpCollector is a no-op implementation for when metrics aren't needed
type NoOpCollector struct{}

func (NoOpCollector) RecordBid(string)           {}
func (NoOpCollector) RecordAuctionClosed(string) {}
func (NoOpCollector) RecordMalformed()           {}
func (NoOpCollector) RecordConnectionOpened()    {}
func (NoOpCollector) RecordConnectionClosed()    {}
func (NoOpCollector) RecordBroadcast(int)        {}
func (NoOpCollector) RecordSlowConsumerDropped() {}

// PrometheusMetrics implements Collector using Prometheus
type PrometheusMetrics struct {
	gatherer prometheus.Gatherer

	bids              *prometheus.CounterVec
	auctionsClosed    *prometheus.CounterVec
	malformed         prometheus.Counter
	connections       prometheus.Gauge
	connectionsTotal  prometheus.Counter
	broadcastFanout   prometheus.Histogram
	slowConsumerDrops prometheus.Counter
}

// NewPrometheusMetrics creates the collectors and registers them on a fresh
// registry, so several instances can coexist in one process.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		gatherer: reg,
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gavel",
			Name:      "bids_total",
			Help:      "Bids received, by result.",
		}, []string{"result"}),
		auctionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gavel",
			Name:      "auctions_closed_total",
			Help:      "Auctions closed, by outcome.",
		}, []string{"outcome"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gavel",
			Name:      "malformed_messages_total",
			Help:      "Inbound lines that could not be decoded.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gavel",
			Name:      "bidder_connections",
			Help:      "Currently registered bidder connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gavel",
			Name:      "bidder_connections_total",
			Help:      "Bidder connections accepted since start.",
		}),
		broadcastFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gavel",
			Name:      "broadcast_recipients",
			Help:      "Connections targeted per broadcast.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		slowConsumerDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gavel",
			Name:      "slow_consumer_drops_total",
			Help:      "Connections dropped because their send buffer was full.",
		}),
	}

	reg.MustRegister(
		m.bids,
		m.auctionsClosed,
		m.malformed,
		m.connections,
		m.connectionsTotal,
		m.broadcastFanout,
		m.slowConsumerDrops,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) RecordBid(result string) {
	m.bids.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) RecordAuctionClosed(outcome string) {
	m.auctionsClosed.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) RecordMalformed() {
	m.malformed.Inc()
}

func (m *PrometheusMetrics) RecordConnectionOpened() {
	m.connections.Inc()
	m.connectionsTotal.Inc()
}

func (m *PrometheusMetrics) RecordConnectionClosed() {
	m.connections.Dec()
}

func (m *PrometheusMetrics) RecordBroadcast(recipients int) {
	m.broadcastFanout.Observe(float64(recipients))
}

func (m *PrometheusMetrics) RecordSlowConsumerDropped() {
	m.slowConsumerDrops.Inc()
}

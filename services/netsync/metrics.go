package netsync

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusNetsyncState             *prometheus.GaugeVec
	prometheusNetsyncAttempts          *prometheus.CounterVec
	prometheusNetsyncRequests          *prometheus.CounterVec
	prometheusNetsyncRequestTimeouts   *prometheus.CounterVec
	prometheusNetsyncPendingRequests   prometheus.Gauge
	prometheusNetsyncUnexpected        *prometheus.CounterVec
	prometheusNetsyncProcessBlock      *prometheus.HistogramVec
	prometheusNetsyncOrphans           prometheus.Gauge
	prometheusNetsyncOrphansEvicted    prometheus.Counter
	prometheusNetsyncOrphansConnected  prometheus.Counter
	prometheusNetsyncMessagesReceived  *prometheus.CounterVec
	prometheusNetsyncMessagesDropped   *prometheus.CounterVec
	prometheusNetsyncConnectedSessions prometheus.Gauge
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusNetsyncState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "state",
			Help:      "Current sync state, 1 for the active state",
		},
		[]string{"state"},
	)

	prometheusNetsyncAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "attempts",
			Help:      "Number of finished sync attempts, by outcome",
		},
		[]string{"outcome"},
	)

	prometheusNetsyncRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "requests",
			Help:      "Number of requests sent to peers, by message type",
		},
		[]string{"type"},
	)

	prometheusNetsyncRequestTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "request_timeouts",
			Help:      "Number of requests that timed out, by message type",
		},
		[]string{"type"},
	)

	prometheusNetsyncPendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "pending_requests",
			Help:      "Number of outstanding requests",
		},
	)

	prometheusNetsyncUnexpected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "unexpected_responses",
			Help:      "Number of responses matching no outstanding request, by message type",
		},
		[]string{"type"},
	)

	prometheusNetsyncProcessBlock = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "process_block",
			Help:      "Duration of block processing in seconds, by result",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"status"},
	)

	prometheusNetsyncOrphans = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "orphans",
			Help:      "Number of buffered orphan blocks",
		},
	)

	prometheusNetsyncOrphansEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "orphans_evicted",
			Help:      "Number of orphan blocks dropped by capacity or expiry",
		},
	)

	prometheusNetsyncOrphansConnected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "orphans_connected",
			Help:      "Number of buffered orphan blocks handed back to the chain",
		},
	)

	prometheusNetsyncMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "messages_received",
			Help:      "Number of peer messages received, by message type",
		},
		[]string{"type"},
	)

	prometheusNetsyncMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "messages_dropped",
			Help:      "Number of peer messages dropped, by reason",
		},
		[]string{"reason"},
	)

	prometheusNetsyncConnectedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rskj",
			Subsystem: "netsync",
			Name:      "sessions",
			Help:      "Number of connected peer sessions",
		},
	)
}

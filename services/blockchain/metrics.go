package blockchain

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlockchainTryToConnect  prometheus.Histogram
	prometheusBlockchainImportResults *prometheus.CounterVec
	prometheusBlockchainReorgs        prometheus.Counter
	prometheusBlockchainReorgDepth    prometheus.Histogram
	prometheusBlockchainBestHeight    prometheus.Gauge
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlockchainTryToConnect = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rskj",
			Subsystem: "blockchain",
			Name:      "try_to_connect",
			Help:      "Duration of TryToConnect calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	prometheusBlockchainImportResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "blockchain",
			Name:      "import_results",
			Help:      "Number of TryToConnect calls, by result",
		},
		[]string{"result"},
	)

	prometheusBlockchainReorgs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "blockchain",
			Name:      "reorgs",
			Help:      "Number of chain reorganizations",
		},
	)

	prometheusBlockchainReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rskj",
			Subsystem: "blockchain",
			Name:      "reorg_depth",
			Help:      "Number of blocks disconnected by a reorganization",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	prometheusBlockchainBestHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rskj",
			Subsystem: "blockchain",
			Name:      "best_height",
			Help:      "Height of the best block",
		},
	)
}

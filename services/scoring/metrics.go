package scoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusScoringEvents      *prometheus.CounterVec
	prometheusScoringPunishments *prometheus.CounterVec
	prometheusScoringRecords     *prometheus.GaugeVec
	prometheusScoringEvictions   *prometheus.CounterVec
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusScoringEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "scoring",
			Name:      "events",
			Help:      "Number of peer events recorded, by event type",
		},
		[]string{"event"},
	)

	prometheusScoringPunishments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "scoring",
			Name:      "punishments",
			Help:      "Number of punishments applied, by track",
		},
		[]string{"track"},
	)

	prometheusScoringRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rskj",
			Subsystem: "scoring",
			Name:      "records",
			Help:      "Number of reputation records held, by track",
		},
		[]string{"track"},
	)

	prometheusScoringEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rskj",
			Subsystem: "scoring",
			Name:      "evictions",
			Help:      "Number of reputation records evicted from the bounded sets, by track",
		},
		[]string{"track"},
	)
}

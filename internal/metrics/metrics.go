// Package metrics exposes Prometheus gauges and counters for the
// orchestrator's tick loop, grounded on the pack's direct
// prometheus/client_golang usage rather than a custom exposition format.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CumulativeR = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swingshort_cumulative_r",
		Help: "Cumulative realized + unrealized R for the current trade date.",
	})

	OpenPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swingshort_open_positions",
			Help: "Current number of open positions by option type.",
		},
		[]string{"option_type"},
	)

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "swingshort_tick_duration_seconds",
		Help:    "Wall-clock duration of one orchestrator tick iteration.",
		Buckets: prometheus.DefBuckets,
	})

	ChurnBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swingshort_churn_breaker_trips_total",
			Help: "Count of churn circuit breaker trips, split by scope.",
		},
		[]string{"scope"}, // symbol|global
	)

	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swingshort_orders_placed_total",
			Help: "Count of orders placed, split by kind.",
		},
		[]string{"kind"}, // entry|sl
	)

	Reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swingshort_feed_reconnects_total",
			Help: "Count of data-feed failovers and reconnects, split by source.",
		},
		[]string{"source"}, // primary|backup
	)
)

func init() {
	prometheus.MustRegister(
		CumulativeR,
		OpenPositions,
		TickDuration,
		ChurnBreakerTrips,
		OrdersPlaced,
		Reconnects,
	)
}

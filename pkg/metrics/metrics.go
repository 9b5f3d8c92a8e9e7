package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersAccepted counts admitted orders by pair and type
var OrdersAccepted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradingcore_orders_accepted_total",
		Help: "Total number of orders admitted by the engine",
	},
	[]string{"pair", "type"},
)

// OrdersRejected counts refused orders by pair and rejection kind
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradingcore_orders_rejected_total",
		Help: "Total number of orders rejected by the engine",
	},
	[]string{"pair", "kind"},
)

// Fills counts executions by pair
var Fills = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradingcore_fills_total",
		Help: "Total number of fills produced by the matcher",
	},
	[]string{"pair"},
)

// BreakerTrips counts breaker openings by pair and cause
var BreakerTrips = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradingcore_breaker_trips_total",
		Help: "Total number of circuit breaker openings",
	},
	[]string{"pair", "forced"},
)

// MatchLatency records latency distribution for a matching pass
var MatchLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "tradingcore_match_latency_seconds",
		Help:    "Latency in seconds of a single matching pass",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	},
	[]string{"pair"},
)

// BookOrders reports resting and parked order counts
var BookOrders = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "tradingcore_book_orders",
		Help: "Number of orders held by a pair actor",
	},
	[]string{"pair", "state"},
)

// Outbox metrics
var (
	OutboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradingcore_outbox_depth",
			Help: "Events waiting to be audited and published",
		},
		[]string{"outbox"},
	)

	AuditAppendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradingcore_audit_append_failures_total",
			Help: "Failed audit sink appends, including retries",
		},
		[]string{"outbox"},
	)

	PublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradingcore_publish_failed_events_total",
			Help: "Audited events held for redelivery after publish retries",
		},
		[]string{"outbox"},
	)
)

func init() {
	prometheus.MustRegister(OrdersAccepted, OrdersRejected, Fills, BreakerTrips, MatchLatency, BookOrders)
	prometheus.MustRegister(OutboxDepth, AuditAppendFailures, PublishFailures)
}

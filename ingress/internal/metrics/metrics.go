package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	auditflow = "auditflow"

	wsConnections       = "ws_connections"
	wsSubscriptions     = "ws_subscriptions"
	wsEventsTotal       = "ws_events_total"
	wsEvictionsTotal    = "ws_evictions_total"
	wsAuthFailuresTotal = "ws_auth_failures_total"
	busListenersStarted = "bus_listener_starts_total"

	// Labels
	resultLabel = "result"
	reasonLabel = "reason"

	EventDelivered    = "delivered"
	EventNoSubscriber = "no_subscriber"

	EvictionBufferFull = "buffer_full"
	EvictionHeartbeat  = "heartbeat"
)

var wsConnectionsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: auditflow,
		Name:      wsConnections,
		Help:      "number of registered live connections",
	},
)

var wsSubscriptionsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: auditflow,
		Name:      wsSubscriptions,
		Help:      "number of job ids with at least one subscriber",
	},
)

var wsEventsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: auditflow,
		Name:      wsEventsTotal,
		Help:      "bus events handled by the registry",
	},
	[]string{resultLabel},
)

var wsEvictionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: auditflow,
		Name:      wsEvictionsTotal,
		Help:      "connections dropped by the registry",
	},
	[]string{reasonLabel},
)

var wsAuthFailuresTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: auditflow,
		Name:      wsAuthFailuresTotal,
		Help:      "connections rejected at authentication",
	},
)

var busListenerStartsMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: auditflow,
		Name:      busListenersStarted,
		Help:      "times the shared bus listener was started",
	},
)

func SetConnections(n int) {
	wsConnectionsMetric.Set(float64(n))
}

func SetSubscriptions(n int) {
	wsSubscriptionsMetric.Set(float64(n))
}

func IncreaseEventsMetric(result string) {
	wsEventsTotalMetric.WithLabelValues(result).Inc()
}

func IncreaseEvictionsMetric(reason string) {
	wsEvictionsTotalMetric.WithLabelValues(reason).Inc()
}

func IncreaseAuthFailuresMetric() {
	wsAuthFailuresTotalMetric.Inc()
}

func IncreaseListenerStartsMetric() {
	busListenerStartsMetric.Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(
		wsConnectionsMetric,
		wsSubscriptionsMetric,
		wsEventsTotalMetric,
		wsEvictionsTotalMetric,
		wsAuthFailuresTotalMetric,
		busListenerStartsMetric,
	)
}

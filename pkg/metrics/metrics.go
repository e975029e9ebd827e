// Package metrics exposes the relay's Prometheus gauges and counters:
// connected mobile devices, bridge connectivity, forwarded messages,
// and rate-limit rejections.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectedDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mobilerelay_connected_devices",
		Help: "Number of currently authenticated mobile devices",
	})

	BridgeConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mobilerelay_bridge_connected",
		Help: "1 if an authenticated bridge client is connected, 0 otherwise",
	})

	PairingSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mobilerelay_pairing_sessions",
		Help: "Number of outstanding one-shot pairing sessions",
	})

	MessagesForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobilerelay_messages_forwarded_total",
			Help: "Total number of messages forwarded across the relay, labeled by direction",
		},
		[]string{"direction"},
	)

	RateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mobilerelay_rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter",
	})

	PairingAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobilerelay_pairing_attempts_total",
			Help: "Total number of pairing attempts, labeled by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectedDevices,
		BridgeConnected,
		PairingSessions,
		MessagesForwarded,
		RateLimitRejections,
		PairingAttempts,
	)
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

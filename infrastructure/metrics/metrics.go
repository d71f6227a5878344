// Package metrics provides the gateway's Prometheus instrumentation:
// session transitions, provisioning latency, and event-bus overflow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gateway holds the gateway's Prometheus collectors.
type Gateway struct {
	SessionTransitions  *prometheus.CounterVec
	ProvisioningLatency *prometheus.HistogramVec
	EventBusDropped     *prometheus.CounterVec
}

// New creates a Gateway metrics bundle registered against the default
// registerer.
func New() *Gateway {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Gateway metrics bundle registered against a
// caller-supplied registerer, for use in tests that want an isolated
// registry.
func NewWithRegistry(registerer prometheus.Registerer) *Gateway {
	g := &Gateway{
		SessionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_session_transitions_total",
				Help: "Count of session status transitions, labeled by from and to status.",
			},
			[]string{"from", "to"},
		),
		ProvisioningLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_provisioning_duration_seconds",
				Help:    "Time spent dispatching the provisioning backend, labeled by outcome.",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"backend", "outcome"},
		),
		EventBusDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_eventbus_dropped_total",
				Help: "Count of events dropped from a subscriber queue on overflow, labeled by channel prefix.",
			},
			[]string{"channel"},
		),
	}
	registerer.MustRegister(g.SessionTransitions, g.ProvisioningLatency, g.EventBusDropped)
	return g
}

// Handler exposes the metrics in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

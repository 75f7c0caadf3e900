// Package metrics collects broker and settlement counters on a private Prometheus registry.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/congo-pay/fundflow/internal/messaging"
)

const namespace = "fundflow"

// Metrics implements messaging.Observer and the coordinator recorder.
type Metrics struct {
	registry *prometheus.Registry

	published          *prometheus.CounterVec
	settled            *prometheus.CounterVec
	dispatched         *prometheus.CounterVec
	resolved           *prometheus.CounterVec
	settlementDuration *prometheus.HistogramVec
}

// New registers every collector for service on a fresh registry.
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": service}

	return &Metrics{
		registry: reg,
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "broker",
			Name:        "published_total",
			Help:        "Messages published per destination and payload kind",
			ConstLabels: labels,
		}, []string{"destination", "kind"}),
		settled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "broker",
			Name:        "deliveries_total",
			Help:        "Deliveries settled per queue, payload kind and outcome",
			ConstLabels: labels,
		}, []string{"queue", "kind", "outcome"}),
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "coordinator",
			Name:        "requests_dispatched_total",
			Help:        "Fund movement intents handed to the payment service",
			ConstLabels: labels,
		}, []string{"purpose"}),
		resolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "coordinator",
			Name:        "settlements_resolved_total",
			Help:        "Settlements that reached a terminal status",
			ConstLabels: labels,
		}, []string{"purpose", "status"}),
		settlementDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "coordinator",
			Name:        "settlement_duration_seconds",
			Help:        "Time from dispatch to terminal status",
			ConstLabels: labels,
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 120, 300},
		}, []string{"purpose", "status"}),
	}
}

// Published counts one outbound message.
func (m *Metrics) Published(destination string, kind messaging.Kind) {
	m.published.WithLabelValues(destination, string(kind)).Inc()
}

// Settled counts one delivery outcome.
func (m *Metrics) Settled(queue string, kind messaging.Kind, outcome string) {
	m.settled.WithLabelValues(queue, string(kind), outcome).Inc()
}

// RequestDispatched counts one intent handed to the broker.
func (m *Metrics) RequestDispatched(purpose string) {
	m.dispatched.WithLabelValues(purpose).Inc()
}

// SettlementResolved counts a terminal settlement and observes how long it took.
func (m *Metrics) SettlementResolved(purpose, status string, elapsed time.Duration) {
	m.resolved.WithLabelValues(purpose, status).Inc()
	m.settlementDuration.WithLabelValues(purpose, status).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

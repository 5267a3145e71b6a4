// Package metrics exposes the bourse's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a private registry. All recording
// methods are safe on a nil *Metrics.
type Metrics struct {
	registry     *prometheus.Registry
	ordersPlaced prometheus.Counter
	transitions  *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	storeRetries prometheus.Counter
	demandDrift  prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bourse",
			Name:      "orders_placed_total",
			Help:      "Orders accepted in pending status.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bourse",
			Name:      "order_transitions_total",
			Help:      "Committed order status transitions by target status.",
		}, []string{"status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bourse",
			Name:      "order_rejections_total",
			Help:      "Ledger operations rejected by a business rule, by reason.",
		}, []string{"reason"}),
		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bourse",
			Name:      "store_retries_total",
			Help:      "Backing store calls retried after a transient failure.",
		}),
		demandDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bourse",
			Name:      "demand_drift_products",
			Help:      "Products whose demand counter disagreed with pending orders at the last audit.",
		}),
	}
	m.registry.MustRegister(
		m.ordersPlaced,
		m.transitions,
		m.rejections,
		m.storeRetries,
		m.demandDrift,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderPlaced() {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
}

func (m *Metrics) OrderTransitioned(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) StoreRetry() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}

func (m *Metrics) SetDemandDrift(products int) {
	if m == nil {
		return
	}
	m.demandDrift.Set(float64(products))
}

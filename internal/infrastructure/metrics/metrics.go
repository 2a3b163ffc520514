// Package metrics holds the Prometheus collectors of the pool service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// Operations counts pool operations by name and outcome.
	Operations *prometheus.CounterVec
	// Events counts emitted pool events by kind.
	Events *prometheus.CounterVec
	// Transfers counts outbound and inbound asset movements by leg and result.
	Transfers *prometheus.CounterVec
	// Restores counts pools written back after a transfer failed past the
	// commit, by result.
	Restores *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "operations_total",
			Help:      "Pool operations by name and result.",
		}, []string{"op", "result"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "events_total",
			Help:      "Pool events recorded by kind.",
		}, []string{"kind"}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "asset",
			Name:      "transfers_total",
			Help:      "Asset transfers attempted by leg and result.",
		}, []string{"leg", "result"}),
		Restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "restores_total",
			Help:      "Pools restored after a failed transfer, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.Operations, m.Events, m.Transfers, m.Restores,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOp records one operation outcome. Nil receivers are no-ops so tests
// can run without metrics.
func (m *Metrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveTransfer(leg string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Transfers.WithLabelValues(leg, result).Inc()
}

func (m *Metrics) ObserveRestore(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.Restores.WithLabelValues(result).Inc()
}

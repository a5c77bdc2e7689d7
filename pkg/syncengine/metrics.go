// Copyright 2024-2026 Aiku AI

package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts engine outcomes. A nil *Metrics records nothing.
type Metrics struct {
	targetResults *prometheus.CounterVec
	events        *prometheus.CounterVec
}

// NewMetrics creates the engine counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		targetResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anysync",
			Name:      "target_results_total",
			Help:      "Per-target outcomes of forward, recall and edit intents.",
		}, []string{"source", "target", "status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anysync",
			Name:      "events_total",
			Help:      "Inbound events by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(m.targetResults, m.events)
	return m
}

func (m *Metrics) observeTarget(source, target string, status Status) {
	if m == nil {
		return
	}
	m.targetResults.WithLabelValues(source, target, string(status)).Inc()
}

func (m *Metrics) observeEvent(kind Kind, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind), outcome).Inc()
}

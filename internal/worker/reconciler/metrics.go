// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "charmruntime_reconciler"

// Metrics is a prometheus.Collector that observes reconciliation passes.
type Metrics struct {
	passes       *prometheus.CounterVec
	applyActions prometheus.Counter
	errors       prometheus.Counter
	passDuration prometheus.Histogram
}

var _ Observer = (*Metrics)(nil)

// NewMetrics returns a new Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "passes_total",
				Help:      "The number of reconciliation passes, by outcome.",
			}, []string{"outcome"},
		),
		applyActions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "apply_actions_total",
				Help:      "The number of container configurations applied.",
			},
		),
		errors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "The number of failed reconciliation passes.",
			},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "pass_duration_seconds",
				Help:      "The time taken by a reconciliation pass.",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
			},
		),
	}
}

// PassCompleted is part of the Observer interface.
func (m *Metrics) PassCompleted(result PassResult) {
	outcome := "success"
	if result.Err != nil {
		outcome = "error"
		m.errors.Inc()
	}
	m.passes.WithLabelValues(outcome).Inc()
	for _, action := range result.Actions {
		if action.Kind == ActionApply {
			m.applyActions.Inc()
		}
	}
	m.passDuration.Observe(result.Duration.Seconds())
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.passes.Describe(ch)
	m.applyActions.Describe(ch)
	m.errors.Describe(ch)
	m.passDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.passes.Collect(ch)
	m.applyActions.Collect(ch)
	m.errors.Collect(ch)
	m.passDuration.Collect(ch)
}

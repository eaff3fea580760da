package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wifictl"

type metrics struct {
	passes       prometheus.Counter
	apChanges    *prometheus.CounterVec
	skippedLines prometheus.Counter
	registrySize prometheus.Gauge
	radio        prometheus.Gauge
	operations   *prometheus.CounterVec
	superseded   *prometheus.CounterVec
	toolErrors   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_passes_total",
			Help:      "Completed registry reconciliation passes.",
		}),
		apChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_point_changes_total",
			Help:      "Registry entries added, updated or removed by reconciliation.",
		}, []string{"change"}),
		skippedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_lines_skipped_total",
			Help:      "Scan output lines rejected as malformed.",
		}),
		registrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "access_points",
			Help:      "Access points currently in the registry.",
		}),
		radio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "radio_enabled",
			Help:      "Whether the Wi-Fi radio was enabled at the last status query.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Finished orchestrator operations by verb and outcome.",
		}, []string{"verb", "outcome"}),
		superseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_superseded_total",
			Help:      "Operations replaced by a newer request of the same verb.",
		}, []string{"verb"}),
		toolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_unavailable_total",
			Help:      "Invocations that failed because the network tool could not be started.",
		}),
	}
	reg.MustRegister(m.passes, m.apChanges, m.skippedLines, m.registrySize, m.radio,
		m.operations, m.superseded, m.toolErrors)
	return m
}

func (m *metrics) observePass(diff Diff, skipped, size int) {
	m.passes.Inc()
	m.apChanges.WithLabelValues("added").Add(float64(len(diff.Added)))
	m.apChanges.WithLabelValues("updated").Add(float64(len(diff.Updated)))
	m.apChanges.WithLabelValues("removed").Add(float64(len(diff.Removed)))
	m.skippedLines.Add(float64(skipped))
	m.registrySize.Set(float64(size))
}

func (m *metrics) observeRadio(enabled bool) {
	if enabled {
		m.radio.Set(1)
	} else {
		m.radio.Set(0)
	}
}

func (m *metrics) observeOperation(verb Verb, outcome Phase) {
	m.operations.WithLabelValues(string(verb), string(outcome)).Inc()
}

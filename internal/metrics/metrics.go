// Package metrics holds the Prometheus collectors shared by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "flowspectra"

// Metrics groups the engine counters.
type Metrics struct {
	RecordsDecoded prometheus.Counter
	DecodeErrors   *prometheus.CounterVec
	DSRsSkipped    prometheus.Counter
	Corrected      prometheus.Counter

	Aggregates *prometheus.CounterVec
	Flushed    *prometheus.CounterVec

	BinErrors   *prometheus.CounterVec
	BinsShifted *prometheus.CounterVec
}

// New creates an unregistered set of collectors.
func New() *Metrics {
	return &Metrics{
		RecordsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "records_total",
			Help:      "Wire records decoded successfully",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "errors_total",
			Help:      "Wire records discarded, by reason",
		}, []string{"reason"}),
		DSRsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "dsrs_skipped_total",
			Help:      "DSRs skipped because their type or layout is not understood",
		}),
		Corrected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "direction_corrected_total",
			Help:      "Records reversed by the direction heuristics",
		}),
		Aggregates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "records_total",
			Help:      "Records offered to an aggregator, by outcome",
		}, []string{"task", "result"}),
		Flushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "flushed_total",
			Help:      "Aggregates evicted after the idle timeout",
		}, []string{"task"}),
		BinErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bins",
			Name:      "errors_total",
			Help:      "Records a bin process could not place, by reason",
		}, []string{"task", "reason"}),
		BinsShifted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bins",
			Name:      "shifted_total",
			Help:      "Bins moved out of the window",
		}, []string{"task"}),
	}
}

// Collectors returns every collector in the set.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RecordsDecoded, m.DecodeErrors, m.DSRsSkipped, m.Corrected,
		m.Aggregates, m.Flushed, m.BinErrors, m.BinsShifted,
	}
}

var (
	// Registry is the registry served at /metrics.
	Registry = prometheus.NewRegistry()
	// Default is the set used by the engine packages.
	Default = New()
)

func init() {
	Registry.MustRegister(Default.Collectors()...)
	Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

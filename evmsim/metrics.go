package evmsim

import (
	"github.com/prometheus/client_golang/prometheus"
)

// adapterMetrics instruments simulated calls. Collectors work unregistered,
// so a nil Registerer simply means nothing is exported.
type adapterMetrics struct {
	calls    prometheus.Counter
	failures *prometheus.CounterVec
	gasUsed  prometheus.Histogram
}

func newAdapterMetrics(reg prometheus.Registerer) *adapterMetrics {
	m := &adapterMetrics{
		calls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "evmsim",
			Name: "calls_total",
			Help: "Simulated calls issued to the execution engine.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "evmsim",
			Name: "call_failures_total",
			Help: "Simulated calls that produced no usable output.",
		}, []string{"kind"}),
		gasUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dexmirror", Subsystem: "evmsim",
			Name:    "call_gas_used",
			Help:    "Gas consumed per simulated call.",
			Buckets: prometheus.ExponentialBuckets(10_000, 2, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.failures, m.gasUsed)
	}
	return m
}

func (m *adapterMetrics) observeCall(kind FailureKind, gasUsed uint64) {
	m.calls.Inc()
	if kind != 0 {
		m.failures.WithLabelValues(kind.String()).Inc()
	}
	if gasUsed > 0 {
		m.gasUsed.Observe(float64(gasUsed))
	}
}

package calculator

import (
	"github.com/prometheus/client_golang/prometheus"

	engine "github.com/dexmirror/dexmirror-go/engine"
)

// calcMetrics instruments quote computation. Collectors work unregistered,
// so a nil Registerer simply means nothing is exported.
type calcMetrics struct {
	quotes       *prometheus.CounterVec
	quoteErrors  *prometheus.CounterVec
	simFallbacks *prometheus.CounterVec
}

func newCalcMetrics(reg prometheus.Registerer) *calcMetrics {
	m := &calcMetrics{
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "calculator",
			Name: "quotes_total",
			Help: "Quote computations by protocol.",
		}, []string{"protocol"}),
		quoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "calculator",
			Name: "quote_errors_total",
			Help: "Quote computations that returned an error.",
		}, []string{"protocol"}),
		simFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "calculator",
			Name: "external_fallbacks_total",
			Help: "External-invariant quotes degraded to zero by a failed simulation.",
		}, []string{"protocol"}),
	}
	if reg != nil {
		reg.MustRegister(m.quotes, m.quoteErrors, m.simFallbacks)
	}
	return m
}

func (m *calcMetrics) incQuote(p engine.Protocol) {
	m.quotes.WithLabelValues(p.String()).Inc()
}

func (m *calcMetrics) incQuoteError(p engine.Protocol) {
	m.quoteErrors.WithLabelValues(p.String()).Inc()
}

func (m *calcMetrics) incSimFallback(p engine.Protocol) {
	m.simFallbacks.WithLabelValues(p.String()).Inc()
}

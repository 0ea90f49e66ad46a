package streams

import "github.com/prometheus/client_golang/prometheus"

type syncerMetrics struct {
	connects    prometheus.Counter
	heads       prometheus.Counter
	blocks      prometheus.Counter
	traceErrors prometheus.Counter
	behind      prometheus.Gauge
}

func newSyncerMetrics(reg prometheus.Registerer) *syncerMetrics {
	m := &syncerMetrics{
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "streams",
			Name: "connects_total",
			Help: "Successful node connections, including reconnects.",
		}),
		heads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "streams",
			Name: "heads_received_total",
			Help: "Head announcements received from the subscription.",
		}),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "streams",
			Name: "blocks_synced_total",
			Help: "Blocks traced and applied to the sink.",
		}),
		traceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "streams",
			Name: "trace_errors_total",
			Help: "Failed block traces.",
		}),
		behind: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dexmirror", Subsystem: "streams",
			Name: "blocks_behind_head",
			Help: "Distance between the last applied block and the sync target.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connects, m.heads, m.blocks, m.traceErrors, m.behind)
	}
	return m
}

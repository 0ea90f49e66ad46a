package market

import "github.com/prometheus/client_golang/prometheus"

type marketMetrics struct {
	pathQuotes    prometheus.Counter
	inputScans    prometheus.Counter
	blocksApplied prometheus.Counter
	touchedPools  prometheus.Histogram
}

func newMarketMetrics(reg prometheus.Registerer) *marketMetrics {
	m := &marketMetrics{
		pathQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "market",
			Name: "path_quotes_total",
			Help: "Multi-hop path quotes requested.",
		}),
		inputScans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "market",
			Name: "input_scans_total",
			Help: "Input grid scans started.",
		}),
		blocksApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "market",
			Name: "blocks_applied_total",
			Help: "Block diffs ingested through the market.",
		}),
		touchedPools: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dexmirror", Subsystem: "market",
			Name:      "touched_pools_per_block",
			Help:      "Tracked pools invalidated per applied block.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pathQuotes, m.inputScans, m.blocksApplied, m.touchedPools)
	}
	return m
}

package statedb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics instruments the mirror. Collectors work unregistered, so a
// nil Registerer simply means nothing is exported.
type storeMetrics struct {
	accountFetches prometheus.Counter
	storageFetches prometheus.Counter
	fetchErrors    prometheus.Counter
	slotUpdates    prometheus.Counter
	commits        prometheus.Counter
	diffsApplied   prometheus.Counter
	diffsRejected  prometheus.Counter
	applyDuration  prometheus.Histogram
	trackedGauge   prometheus.Gauge
	blockGauge     prometheus.Gauge
}

func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	m := &storeMetrics{
		accountFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "statedb",
			Name: "remote_account_fetches_total",
			Help: "Account read-through fetches against the remote source.",
		}),
		storageFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "statedb",
			Name: "remote_storage_fetches_total",
			Help: "Storage slot read-through fetches against the remote source.",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "statedb",
			Name: "remote_fetch_errors_total",
			Help: "Failed remote fetches.",
		}),
		slotUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "statedb",
			Name: "slot_updates_total",
			Help: "Storage words written by diffs and commits.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "statedb",
			Name: "execution_commits_total",
			Help: "Execution change sets merged into the mirror.",
		}),
		diffsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "statedb",
			Name: "block_diffs_applied_total",
			Help: "Block diffs accepted and applied.",
		}),
		diffsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "statedb",
			Name: "block_diffs_rejected_total",
			Help: "Block diffs rejected as stale or out of order.",
		}),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dexmirror", Subsystem: "statedb",
			Name:    "diff_apply_duration_seconds",
			Help:    "Wall time of ApplyBlockDiff.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		trackedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dexmirror", Subsystem: "statedb",
			Name: "tracked_addresses",
			Help: "Size of the tracked address set.",
		}),
		blockGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dexmirror", Subsystem: "statedb",
			Name: "pinned_block",
			Help: "Block number reads are pinned to.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.accountFetches, m.storageFetches, m.fetchErrors,
			m.slotUpdates, m.commits,
			m.diffsApplied, m.diffsRejected, m.applyDuration,
			m.trackedGauge, m.blockGauge,
		)
	}
	return m
}

func (m *storeMetrics) incAccountFetch() { m.accountFetches.Inc() }
func (m *storeMetrics) incStorageFetch() { m.storageFetches.Inc() }
func (m *storeMetrics) incFetchError()   { m.fetchErrors.Inc() }
func (m *storeMetrics) incSlotUpdate()   { m.slotUpdates.Inc() }
func (m *storeMetrics) incCommit()       { m.commits.Inc() }
func (m *storeMetrics) incDiffRejected() { m.diffsRejected.Inc() }

func (m *storeMetrics) setTracked(n int)  { m.trackedGauge.Set(float64(n)) }
func (m *storeMetrics) setBlock(n uint64) { m.blockGauge.Set(float64(n)) }

func (m *storeMetrics) applyTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.applyDuration)
}

func (m *storeMetrics) observeDiff(block uint64) {
	m.diffsApplied.Inc()
	m.blockGauge.Set(float64(block))
}

package ixdb

import "github.com/prometheus/client_golang/prometheus"

// dbMetrics are per-DB so that several databases can live in one process;
// register them with a name label via prometheus.WrapRegistererWith.
type dbMetrics struct {
	commits        prometheus.Counter
	aborts         prometheus.Counter
	conflicts      prometheus.Counter
	ops            *prometheus.CounterVec
	commitDuration prometheus.Histogram
	readers        prometheus.GaugeFunc
	writers        prometheus.GaugeFunc
	pendingWriters prometheus.GaugeFunc
	size           prometheus.GaugeFunc
}

func newMetrics() *dbMetrics {
	return &dbMetrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ixdb_commits_total",
			Help: "Cumulative number of committed write transactions.",
		}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ixdb_aborts_total",
			Help: "Cumulative number of write transactions rolled back.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ixdb_write_conflicts_total",
			Help: "Cumulative number of TryBeginWrite calls refused because another writer was open.",
		}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ixdb_applied_ops_total",
			Help: "Cumulative number of committed bucket operations, by table kind.",
		}, []string{"kind"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ixdb_commit_duration_seconds",
			Help:    "Time spent applying queued operations and committing.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

func (m *dbMetrics) bind(db *DB) {
	m.readers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ixdb_open_readers",
		Help: "Number of open read transactions.",
	}, func() float64 { return float64(db.ReaderCount.Load()) })
	m.writers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ixdb_open_writers",
		Help: "Number of open write transactions (0 or 1).",
	}, func() float64 { return float64(db.WriterCount.Load()) })
	m.pendingWriters = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ixdb_pending_writers",
		Help: "Number of goroutines waiting for the writer slot.",
	}, func() float64 { return float64(db.PendingWriterCount.Load()) })
	m.size = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ixdb_size_bytes",
		Help: "Database size as of the last commit.",
	}, func() float64 { return float64(db.lastSize.Load()) })
}

// countWrite records the outcome of a finished write transaction.
func (m *dbMetrics) countWrite(err error, applied *[numTableKinds]int) {
	if err != nil {
		m.aborts.Inc()
		return
	}
	m.commits.Inc()
	for kind, n := range applied {
		if n > 0 {
			m.ops.WithLabelValues(TableKind(kind).String()).Add(float64(n))
		}
	}
}

// Collectors returns the metrics of this DB for registration.
func (db *DB) Collectors() []prometheus.Collector {
	m := db.metrics
	return []prometheus.Collector{
		m.commits,
		m.aborts,
		m.conflicts,
		m.ops,
		m.commitDuration,
		m.readers,
		m.writers,
		m.pendingWriters,
		m.size,
	}
}

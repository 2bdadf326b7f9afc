package backend

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirror the unexported Observe-style variables jrchyang-etcd's
// backend.go reaches for (commitSec, writeSec, rebalanceSec, spillSec,
// defragSec, snapshotTransferSec) but that live in etcd's separate
// metrics.go, not part of the retrieved subtree. Reconstructed here in the
// same idiom: package-level histograms/gauges registered once, observed
// from the hot paths that the teacher's code already assumes they exist
// on.
var (
	commitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lantern",
		Subsystem: "backend",
		Name:      "commit_seconds",
		Help:      "Latency of committing one atomic batch to the backend.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	})

	batchPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lantern",
		Subsystem: "backend",
		Name:      "batch_pending_ops",
		Help:      "Number of ops in the most recently committed batch.",
	})

	dbSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lantern",
		Subsystem: "backend",
		Name:      "db_size_bytes",
		Help:      "Physically allocated size of the backend file.",
	})
)

func init() {
	prometheus.MustRegister(commitSeconds, batchPending, dbSizeBytes)
}

package bulkwrite

import "github.com/prometheus/client_golang/prometheus"

// Metrics for the write pipeline itself, distinct from internal/backend's
// commit-latency histogram: these count at the document/attachment level,
// one layer above the raw batch commit.
var (
	docsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lantern",
		Subsystem: "bulkwrite",
		Name:      "docs_written_total",
		Help:      "Documents accepted by the write pipeline (excludes idempotent no-ops).",
	})

	batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lantern",
		Subsystem: "bulkwrite",
		Name:      "batch_size",
		Help:      "Number of input documents per bulk write call.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(docsWritten, batchSize)
}

package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ScyllaDb = "scylladb"
	MemoryDb = "memory"
)

func dbDriver() string {
	if os.Getenv("SCYLLA_NODES") != "" {
		return ScyllaDb
	}

	return MemoryDb
}

var (
	DbReadLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:      "db_read_latency_seconds",
			Namespace: HistoryNamespace,
			ConstLabels: prometheus.Labels{
				"db": dbDriver(),
			},
			Buckets: prometheus.DefBuckets,
			Help:    "The latency of db read operations in seconds.",
		},
		[]string{"query"},
	)

	DbWriteLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:      "db_write_latency_seconds",
			Namespace: HistoryNamespace,
			ConstLabels: prometheus.Labels{
				"db": dbDriver(),
			},
			Buckets: prometheus.DefBuckets,
			Help:    "The latency of db write operations in seconds.",
		},
		[]string{"table"},
	)

	DbWriteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "db_write_errors_total",
			Namespace: HistoryNamespace,
			Help:      "The total number of failed (and dropped) writes per table.",
		},
		[]string{"table"},
	)

	DbDecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "db_decode_errors_total",
			Namespace: HistoryNamespace,
			Help:      "The total number of stored rows that could not be decoded.",
		},
		[]string{"table"},
	)
)

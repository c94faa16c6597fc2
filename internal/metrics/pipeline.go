package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "readings_total",
		Namespace: HistoryNamespace,
		Help:      "The total number of readings submitted to the aggregation pipeline.",
	})

	LookupMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "lookup_misses_total",
		Namespace: HistoryNamespace,
		Help:      "The total number of readings dropped because the sensor is unknown.",
	})

	AggregatesEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "aggregates_emitted_total",
		Namespace: HistoryNamespace,
		Help:      "The total number of aggregated records emitted.",
	})

	EmitErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "emit_errors_total",
		Namespace: HistoryNamespace,
		Help:      "The total number of aggregated records that could not be emitted.",
	})

	AggregationGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "aggregation_groups",
		Namespace: HistoryNamespace,
		Help:      "The number of aggregation groups held in memory.",
	})

	SnapshotErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "snapshot_errors_total",
		Namespace: HistoryNamespace,
		Help:      "The total number of failed state snapshot loads and saves.",
	}, []string{"op"})

	MessageDecodeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "message_decode_errors_total",
		Namespace: HistoryNamespace,
		Help:      "The total number of malformed messages skipped per topic.",
	}, []string{"topic"})

	LateReadingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "late_readings_total",
		Namespace: HistoryNamespace,
		Help:      "The total number of readings older than their open window.",
	}, []string{"window"})
)

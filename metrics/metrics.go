package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts collected queries by the kind of index they read.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdcdb_queries_total",
			Help: "Total number of queries collected",
		},
		[]string{"index_kind"},
	)
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sdcdb_query_duration_seconds",
			Help:    "Query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"index_kind"},
	)
	BlocksScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdcdb_blocks_scanned_total",
			Help: "Data blocks read by queries",
		},
		[]string{"index_kind"},
	)
	BlocksPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdcdb_blocks_pruned_total",
			Help: "Data blocks skipped by range pruning",
		},
		[]string{"index_kind"},
	)
	RowsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdcdb_rows_read_total",
			Help: "Rows loaded from data blocks by queries",
		},
		[]string{"index_kind"},
	)
	// IndexBlocksWritten counts block files written when materializing indexes.
	IndexBlocksWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdcdb_index_blocks_written_total",
			Help: "Data block files written for indexes",
		},
		[]string{"index_kind"},
	)
	OptimizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sdcdb_optimize_duration_seconds",
			Help:    "Duration of optimize passes in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)
	RowsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sdcdb_rows_ingested_total",
			Help: "Rows written to primary indexes",
		},
	)
)

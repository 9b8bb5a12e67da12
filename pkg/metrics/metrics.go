// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_indexer_fetch_chunks_total",
			Help: "Record store chunk queries by object and outcome",
		},
		[]string{"object", "status"}, // status=success/failure
	)

	RecordsFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_indexer_records_fetched_total",
			Help: "Records retrieved from the record store",
		},
		[]string{"object"},
	)

	ChunkDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_indexer_chunk_duration_seconds",
			Help:    "Duration of a single fetch or bulk write chunk",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"stage"}, // fetch, index
	)

	DocumentsIndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_indexer_documents_indexed_total",
			Help: "Documents written to the search index by outcome",
		},
		[]string{"index", "status"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_indexer_runs_total",
			Help: "Pipeline runs by pipeline and mode",
		},
		[]string{"pipeline", "mode"}, // mode=indexed/report-only/failed
	)
)

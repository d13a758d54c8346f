// Package metrics registers the counters, histograms, and gauges exposed on
// /metrics via promhttp.Handler() (SPEC_FULL §10). Names mirror the
// counters the original Python/Rust services already tracked
// (original_source/services/ingestion-rs/src/main.rs's WorkerMetrics), with
// an edge_/ingestion_/allocator_ prefix per binary. prometheus/client_golang
// itself is not present in any example repo's go.mod; DESIGN.md documents it
// as an out-of-pack pick, since nothing in the corpus offers a metrics
// client and this spec has an explicit observability surface to fill.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EdgeDBReadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_db_reads_total",
		Help: "Total OLTP reads performed by the edge service.",
	})

	EdgeDBWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_db_writes_total",
		Help: "Total OLTP writes performed by the edge service.",
	})

	EdgeCacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_cache_ops_total",
		Help: "Cache operations by outcome.",
	}, []string{"outcome"})

	EdgeBrokerPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_broker_publish_total",
		Help: "Click-event broker publish attempts by outcome.",
	}, []string{"outcome"})

	EdgeStreamFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_stream_fallback_total",
		Help: "Click events diverted to the fallback stream after a broker publish failure.",
	})

	IngestionFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_flush_total",
		Help: "Ingestion worker flush cycles by outcome.",
	}, []string{"outcome"})

	IngestionFlushDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingestion_flush_duration_seconds",
		Help:    "Duration of a full flush cycle (OLTP + cache + OLAP).",
		Buckets: prometheus.DefBuckets,
	})

	IngestionLagRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingestion_lag_records",
		Help: "Records pending in the aggregation buffer at last observation.",
	})

	IngestionActiveBuffers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingestion_active_buffers",
		Help: "Number of click_buffer:* keys left standing after the stale-buffer sweep.",
	})

	IngestionActiveAggregations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingestion_active_aggregations",
		Help: "Number of fallback-stream records delivered to the ingestion consumer group but not yet acked.",
	})

	AllocatorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_requests_total",
		Help: "Range allocation requests by which KV backend served them.",
	}, []string{"kv"})
)

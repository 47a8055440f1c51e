// Package metrics defines the Prometheus instrumentation for the worker
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetproc",
		Name:      "jobs_processed_total",
		Help:      "Total worker runs by terminal result.",
	}, []string{"result"})

	JobsStuckTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "assetproc",
		Name:      "jobs_stuck_total",
		Help:      "Total jobs the scheduler reclaimed as stuck.",
	})

	JobsMaxAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "assetproc",
		Name:      "jobs_max_attempts_total",
		Help:      "Total jobs marked max_attempts_exceeded.",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "assetproc",
		Name:      "queue_depth",
		Help:      "Number of jobs waiting in the in-memory queue.",
	})

	ChunksProducedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "assetproc",
		Name:      "chunks_produced_total",
		Help:      "Total audio chunks produced by the segmenter.",
	})

	SegmentationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "assetproc",
		Name:      "segmentation_duration_seconds",
		Help:      "Duration of media segmentation runs in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	HeartbeatFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "assetproc",
		Name:      "heartbeat_failures_total",
		Help:      "Total failed heartbeat patches (best-effort, retried next tick).",
	})
)

// Register registers all collectors with the given registerer.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		JobsProcessedTotal,
		JobsStuckTotal,
		JobsMaxAttemptsTotal,
		QueueDepth,
		ChunksProducedTotal,
		SegmentationDuration,
		HeartbeatFailuresTotal,
	)
}

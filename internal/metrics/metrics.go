// Package metrics exposes Prometheus instrumentation for the indexing pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Leader metrics
	LeaderIsLeading = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "barreleye_leader_is_leading",
			Help: "Whether this replica currently holds leadership (1 = leading, 0 = not)",
		},
	)

	LeaderHeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "barreleye_leader_heartbeats_total",
			Help: "Total number of leader heartbeat iterations",
		},
	)

	// Sync stage metrics
	SyncTailHeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barreleye_sync_tail_height",
			Help: "Current sync tail cursor by network",
		},
		[]string{"network"},
	)

	SyncChunksRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barreleye_sync_chunks_remaining",
			Help: "Number of unfinished backfill chunks by network",
		},
		[]string{"network"},
	)

	SyncBlockDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "barreleye_sync_block_duration_seconds",
			Help:    "Time taken to extract a single block",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network"},
	)

	// Process stage metrics
	ProcessTailHeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barreleye_process_tail_height",
			Help: "Current process tail cursor by network",
		},
		[]string{"network"},
	)

	ProcessCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "barreleye_process_commit_duration_seconds",
			Help:    "Time taken to commit a process-stage batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network"},
	)

	ProcessRowsCommittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barreleye_process_rows_committed_total",
			Help: "Total warehouse rows committed by the process stage, by network and table",
		},
		[]string{"network", "table"},
	)

	// Link stage metrics
	LinkChainsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barreleye_link_chains_total",
			Help: "Total number of link rows currently materialized, by network",
		},
		[]string{"network"},
	)

	LinkPassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "barreleye_link_pass_duration_seconds",
			Help:    "Time taken for a single link-builder pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network"},
	)

	// Pruner metrics
	PrunerPassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "barreleye_pruner_passes_total",
			Help: "Total number of pruner sweep passes completed",
		},
	)

	PrunerRowsDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barreleye_pruner_rows_deleted_total",
			Help: "Total rows deleted by the pruner, by table",
		},
		[]string{"table"},
	)

	// ChainAdapter metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barreleye_rpc_requests_total",
			Help: "Total chain RPC requests by network and outcome",
		},
		[]string{"network", "outcome"},
	)

	RPCRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barreleye_rpc_retries_total",
			Help: "Total chain RPC retry attempts by network",
		},
		[]string{"network"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barreleye_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "barreleye_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(LeaderIsLeading)
	prometheus.MustRegister(LeaderHeartbeatsTotal)
	prometheus.MustRegister(SyncTailHeight)
	prometheus.MustRegister(SyncChunksRemaining)
	prometheus.MustRegister(SyncBlockDuration)
	prometheus.MustRegister(ProcessTailHeight)
	prometheus.MustRegister(ProcessCommitDuration)
	prometheus.MustRegister(ProcessRowsCommittedTotal)
	prometheus.MustRegister(LinkChainsTotal)
	prometheus.MustRegister(LinkPassDuration)
	prometheus.MustRegister(PrunerPassesTotal)
	prometheus.MustRegister(PrunerRowsDeletedTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRetriesTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

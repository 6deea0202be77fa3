package handler

import (
	"fmt"
	"net/http"

	"github.com/shortstat/shortstat/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "shortstat_redirect_cache_hits_total %d\n", snap.RedirectCacheHits)
	writeMetric(w, "shortstat_redirect_cache_misses_total %d\n", snap.RedirectCacheMisses)
	writeMetric(w, "shortstat_redirect_duration_seconds_count %d\n", snap.RedirectDurationCount)
	writeMetric(w, "shortstat_redirect_duration_seconds_sum %.6f\n", float64(snap.RedirectDurationTotalNs)/1e9)

	writeMetric(w, "shortstat_links_created_total %d\n", snap.LinksCreated)
	writeMetric(w, "shortstat_links_updated_total %d\n", snap.LinksUpdated)
	writeMetric(w, "shortstat_links_deleted_total %d\n", snap.LinksDeleted)

	writeMetric(w, "shortstat_visits_published_total{status=\"success\"} %d\n", snap.VisitsPublished)
	writeMetric(w, "shortstat_visits_published_total{status=\"dropped\"} %d\n", snap.VisitsDropped)

	writeMetric(w, "shortstat_visits_processed_total{status=\"success\"} %d\n", snap.VisitsProcessed)
	writeMetric(w, "shortstat_visits_processed_total{status=\"failed\"} %d\n", snap.VisitsProcessedFailed)
	writeMetric(w, "shortstat_visits_processed_total{status=\"skipped\"} %d\n", snap.VisitsProcessedSkipped)
	writeMetric(w, "shortstat_visits_processed_total{status=\"dead_lettered\"} %d\n", snap.VisitsDeadLettered)

	writeMetric(w, "shortstat_ingest_batches_total %d\n", snap.IngestBatchCount)
	writeMetric(w, "shortstat_ingest_queue_depth %d\n", snap.IngestQueueDepth)
	writeMetric(w, "shortstat_ingest_batch_duration_seconds_count %d\n", snap.IngestBatchDurationCount)
	writeMetric(w, "shortstat_ingest_batch_duration_seconds_sum %.6f\n", float64(snap.IngestBatchDurationTotalNs)/1e9)
	writeMetric(w, "shortstat_ingest_lag_seconds_count %d\n", snap.IngestLagCount)
	writeMetric(w, "shortstat_ingest_lag_seconds_sum %.6f\n", float64(snap.IngestLagTotalNs)/1e9)

	writeMetric(w, "shortstat_rollup_runs_total %d\n", snap.RollupRuns)
	writeMetric(w, "shortstat_rollup_days_aggregated_total %d\n", snap.RollupDaysAggregated)
	writeMetric(w, "shortstat_rollup_run_duration_seconds_sum %.6f\n", float64(snap.RollupDurationTotalNs)/1e9)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	RedirectCacheHits       uint64
	RedirectCacheMisses     uint64
	RedirectDurationCount   uint64
	RedirectDurationTotalNs int64
	LinksCreated            uint64
	LinksUpdated            uint64
	LinksDeleted            uint64

	VisitsPublished        uint64
	VisitsDropped          uint64
	VisitsProcessed        uint64
	VisitsProcessedFailed  uint64
	VisitsProcessedSkipped uint64
	VisitsDeadLettered     uint64

	IngestBatchCount           uint64
	IngestBatchSizeTotal       uint64
	IngestBatchDurationCount   uint64
	IngestBatchDurationTotalNs int64
	IngestQueueDepth           int64
	IngestLagCount             uint64
	IngestLagTotalNs           int64

	RollupRuns            uint64
	RollupDaysAggregated  uint64
	RollupDurationTotalNs int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	redirectCacheHits       uint64
	redirectCacheMisses     uint64
	redirectDurationCount   uint64
	redirectDurationTotalNs int64
	linksCreated            uint64
	linksUpdated            uint64
	linksDeleted            uint64

	visitsPublished        uint64
	visitsDropped          uint64
	visitsProcessed        uint64
	visitsProcessedFailed  uint64
	visitsProcessedSkipped uint64
	visitsDeadLettered     uint64

	ingestBatchCount           uint64
	ingestBatchSizeTotal       uint64
	ingestBatchDurationCount   uint64
	ingestBatchDurationTotalNs int64
	ingestQueueDepth           int64
	ingestLagCount             uint64
	ingestLagTotalNs           int64

	rollupRuns            uint64
	rollupDaysAggregated  uint64
	rollupDurationTotalNs int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		RedirectCacheHits:       atomic.LoadUint64(&m.redirectCacheHits),
		RedirectCacheMisses:     atomic.LoadUint64(&m.redirectCacheMisses),
		RedirectDurationCount:   atomic.LoadUint64(&m.redirectDurationCount),
		RedirectDurationTotalNs: atomic.LoadInt64(&m.redirectDurationTotalNs),
		LinksCreated:            atomic.LoadUint64(&m.linksCreated),
		LinksUpdated:            atomic.LoadUint64(&m.linksUpdated),
		LinksDeleted:            atomic.LoadUint64(&m.linksDeleted),

		VisitsPublished:        atomic.LoadUint64(&m.visitsPublished),
		VisitsDropped:          atomic.LoadUint64(&m.visitsDropped),
		VisitsProcessed:        atomic.LoadUint64(&m.visitsProcessed),
		VisitsProcessedFailed:  atomic.LoadUint64(&m.visitsProcessedFailed),
		VisitsProcessedSkipped: atomic.LoadUint64(&m.visitsProcessedSkipped),
		VisitsDeadLettered:     atomic.LoadUint64(&m.visitsDeadLettered),

		IngestBatchCount:           atomic.LoadUint64(&m.ingestBatchCount),
		IngestBatchSizeTotal:       atomic.LoadUint64(&m.ingestBatchSizeTotal),
		IngestBatchDurationCount:   atomic.LoadUint64(&m.ingestBatchDurationCount),
		IngestBatchDurationTotalNs: atomic.LoadInt64(&m.ingestBatchDurationTotalNs),
		IngestQueueDepth:           atomic.LoadInt64(&m.ingestQueueDepth),
		IngestLagCount:             atomic.LoadUint64(&m.ingestLagCount),
		IngestLagTotalNs:           atomic.LoadInt64(&m.ingestLagTotalNs),

		RollupRuns:            atomic.LoadUint64(&m.rollupRuns),
		RollupDaysAggregated:  atomic.LoadUint64(&m.rollupDaysAggregated),
		RollupDurationTotalNs: atomic.LoadInt64(&m.rollupDurationTotalNs),
	}
}

// IncRedirectCacheHit increments cache hit counter.
func (m *InMemoryRecorder) IncRedirectCacheHit() {
	atomic.AddUint64(&m.redirectCacheHits, 1)
}

// IncRedirectCacheMiss increments cache miss counter.
func (m *InMemoryRecorder) IncRedirectCacheMiss() {
	atomic.AddUint64(&m.redirectCacheMisses, 1)
}

// ObserveRedirectDuration records redirect duration.
func (m *InMemoryRecorder) ObserveRedirectDuration(duration time.Duration) {
	atomic.AddUint64(&m.redirectDurationCount, 1)
	atomic.AddInt64(&m.redirectDurationTotalNs, duration.Nanoseconds())
}

// IncLinkCreated increments link created counter.
func (m *InMemoryRecorder) IncLinkCreated() {
	atomic.AddUint64(&m.linksCreated, 1)
}

// IncLinkUpdated increments link updated counter.
func (m *InMemoryRecorder) IncLinkUpdated() {
	atomic.AddUint64(&m.linksUpdated, 1)
}

// IncLinkDeleted increments link deleted counter.
func (m *InMemoryRecorder) IncLinkDeleted() {
	atomic.AddUint64(&m.linksDeleted, 1)
}

// IncVisitPublished counts visit events published to the stream.
func (m *InMemoryRecorder) IncVisitPublished(status string) {
	switch status {
	case "success":
		atomic.AddUint64(&m.visitsPublished, 1)
	case "dropped":
		atomic.AddUint64(&m.visitsDropped, 1)
	}
}

// IncVisitProcessed counts visit events consumed from the stream.
func (m *InMemoryRecorder) IncVisitProcessed(status string) {
	switch status {
	case "success":
		atomic.AddUint64(&m.visitsProcessed, 1)
	case "failed":
		atomic.AddUint64(&m.visitsProcessedFailed, 1)
	case "skipped":
		atomic.AddUint64(&m.visitsProcessedSkipped, 1)
	case "dead_lettered":
		atomic.AddUint64(&m.visitsDeadLettered, 1)
	}
}

// ObserveIngestBatchSize records the size of a consumed batch.
func (m *InMemoryRecorder) ObserveIngestBatchSize(size int) {
	atomic.AddUint64(&m.ingestBatchCount, 1)
	atomic.AddUint64(&m.ingestBatchSizeTotal, uint64(size))
}

// ObserveIngestBatchDuration records batch processing duration.
func (m *InMemoryRecorder) ObserveIngestBatchDuration(duration time.Duration) {
	atomic.AddUint64(&m.ingestBatchDurationCount, 1)
	atomic.AddInt64(&m.ingestBatchDurationTotalNs, duration.Nanoseconds())
}

// SetIngestQueueDepth records the current stream backlog.
func (m *InMemoryRecorder) SetIngestQueueDepth(depth int64) {
	atomic.StoreInt64(&m.ingestQueueDepth, depth)
}

// ObserveIngestLag records publish-to-persist latency for one event.
func (m *InMemoryRecorder) ObserveIngestLag(lag time.Duration) {
	atomic.AddUint64(&m.ingestLagCount, 1)
	atomic.AddInt64(&m.ingestLagTotalNs, lag.Nanoseconds())
}

// ObserveRollupRun records one aggregator run.
func (m *InMemoryRecorder) ObserveRollupRun(days int, duration time.Duration) {
	atomic.AddUint64(&m.rollupRuns, 1)
	atomic.AddUint64(&m.rollupDaysAggregated, uint64(days))
	atomic.AddInt64(&m.rollupDurationTotalNs, duration.Nanoseconds())
}

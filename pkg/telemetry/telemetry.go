package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	queueItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "upsync_queue_items",
		Help: "Items currently retained in the sync queue, failed included.",
	})

	queuePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "upsync_queue_pending",
		Help: "Items awaiting or undergoing sync.",
	})

	queueFailed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "upsync_queue_failed",
		Help: "Items in terminal failed state.",
	})

	syncAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upsync_sync_attempts_total",
		Help: "Execution attempts by result.",
	}, []string{"result"})

	syncPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upsync_sync_passes_total",
		Help: "Completed queue processing passes.",
	})

	cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "upsync_cache_entries",
		Help: "Entries currently held by the prefetch cache.",
	})

	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upsync_cache_hits_total",
		Help: "Fresh cache reads.",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upsync_cache_misses_total",
		Help: "Cache reads that found nothing fresh.",
	})

	cacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upsync_cache_evictions_total",
		Help: "Entries evicted by reason.",
	}, []string{"reason"})

	prefetchInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "upsync_prefetch_inflight",
		Help: "Fetches currently in flight.",
	})

	prefetchShared = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upsync_prefetch_shared_total",
		Help: "Callers that joined an already in-flight fetch.",
	})

	snapshotErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upsync_snapshot_errors_total",
		Help: "Snapshot store operations that degraded to no-ops.",
	})
)

func init() {
	prometheus.MustRegister(queueItems)
	prometheus.MustRegister(queuePending)
	prometheus.MustRegister(queueFailed)
	prometheus.MustRegister(syncAttempts)
	prometheus.MustRegister(syncPasses)
	prometheus.MustRegister(cacheEntries)
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(cacheEvictions)
	prometheus.MustRegister(prefetchInflight)
	prometheus.MustRegister(prefetchShared)
	prometheus.MustRegister(snapshotErrors)
}

// SetQueueGauges records the queue's retained/pending/failed item counts.
func SetQueueGauges(items, pending, failed int) {
	queueItems.Set(float64(items))
	queuePending.Set(float64(pending))
	queueFailed.Set(float64(failed))
}

// IncSyncAttempt counts one execution attempt.
func IncSyncAttempt(success bool) {
	if success {
		syncAttempts.WithLabelValues("success").Inc()
	} else {
		syncAttempts.WithLabelValues("failure").Inc()
	}
}

// IncSyncPass counts one completed processing pass.
func IncSyncPass() {
	syncPasses.Inc()
}

// SetCacheEntries records the cache's current entry count.
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

func IncCacheHit()  { cacheHits.Inc() }
func IncCacheMiss() { cacheMisses.Inc() }

// IncCacheEviction counts one eviction; reason is "expired" or "capacity".
func IncCacheEviction(reason string) {
	cacheEvictions.WithLabelValues(reason).Inc()
}

// PrefetchStarted/PrefetchDone bracket an in-flight fetch.
func PrefetchStarted() { prefetchInflight.Inc() }
func PrefetchDone()    { prefetchInflight.Dec() }

// IncPrefetchShared counts a caller that piggybacked on an in-flight fetch.
func IncPrefetchShared() { prefetchShared.Inc() }

// IncSnapshotError counts a store operation that degraded to a no-op.
func IncSnapshotError() { snapshotErrors.Inc() }

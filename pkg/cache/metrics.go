package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks live entries returned by reads, by type tag
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doccache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"type"},
	)

	// CacheMisses tracks reads that found nothing, by type tag
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doccache_misses_total",
			Help: "Total number of cache misses (absent or expired)",
		},
		[]string{"type"},
	)

	// CacheExpired tracks reads that found an expired entry
	CacheExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doccache_expired_total",
			Help: "Total number of expired entries observed on read",
		},
		[]string{"type"},
	)

	// CacheWrites tracks committed writes
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doccache_writes_total",
			Help: "Total number of cache writes committed",
		},
		[]string{"type"},
	)

	// CacheConflicts tracks writes rejected with ErrWriteConflict
	CacheConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doccache_write_conflicts_total",
			Help: "Total number of revision-checked writes that lost to a concurrent writer",
		},
		[]string{"type"},
	)

	// CacheRemoves tracks explicit removes, including removes of absent entries
	CacheRemoves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doccache_removes_total",
			Help: "Total number of explicit cache removes",
		},
		[]string{"type"},
	)

	// OperationDuration tracks repository operation latency including store I/O
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doccache_operation_duration_seconds",
			Help:    "Duration of cache repository operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation"}, // "get", "set", "remove", "count"
	)

	// EntrySize tracks serialized entry size in bytes
	EntrySize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doccache_entry_size_bytes",
			Help:    "Size of serialized cache entries in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"type"},
	)

	// CacheErrors tracks failed operations
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doccache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear", "count", "purge"
	)

	// LazyDeletes tracks background deletes of expired entries
	LazyDeletes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doccache_lazy_deletes_total",
			Help: "Total number of background deletes of expired entries by result",
		},
		[]string{"result"}, // "deleted", "superseded", "failed"
	)

	// ClearDeleted tracks entries removed by Clear
	ClearDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doccache_clear_deleted_total",
			Help: "Total number of entries removed by Clear",
		},
	)

	// SweepPurged tracks expired entries removed by PurgeExpired
	SweepPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doccache_sweep_purged_total",
			Help: "Total number of expired entries removed by sweeps",
		},
	)
)

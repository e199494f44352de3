// Package metrics provides the Prometheus registry and scrape handler for doc-cache.
// All metrics are defined in their respective packages (cache, couchdb)
// to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by doc-cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving every registered metric.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - doccache_hits_total{type} (Counter): Live entries returned by reads
//   - doccache_misses_total{type} (Counter): Reads that found nothing or an expired entry
//   - doccache_expired_total{type} (Counter): Expired entries observed on read
//   - doccache_writes_total{type} (Counter): Committed writes
//   - doccache_write_conflicts_total{type} (Counter): Revision-checked writes that lost a race
//   - doccache_removes_total{type} (Counter): Explicit removes
//   - doccache_operation_duration_seconds{operation} (Histogram): Repository operation latency (get, set, remove, count)
//   - doccache_entry_size_bytes{type} (Histogram): Serialized entry size
//   - doccache_errors_total{operation} (Counter): Failed operations (get, set, delete, clear, count, purge)
//   - doccache_lazy_deletes_total{result} (Counter): Background deletes of expired entries (deleted, superseded, failed)
//   - doccache_clear_deleted_total (Counter): Entries removed by Clear
//   - doccache_sweep_purged_total (Counter): Expired entries removed by sweeps
//
// CouchDB Store Metrics (pkg/docstore/couchdb):
//   - doccache_couchdb_requests_total{method, status} (Counter): Requests by HTTP method and status
//   - doccache_couchdb_request_duration_seconds{method} (Histogram): Request duration
//   - doccache_couchdb_retries_total{error_class} (Counter): Retry attempts by error class
//   - doccache_couchdb_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - doccache_couchdb_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//   - doccache_couchdb_breaker_state{name} (Gauge): Circuit breaker state (0 closed, 1 half-open, 2 open)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(doccache_hits_total[5m])) /
//   (sum(rate(doccache_hits_total[5m])) + sum(rate(doccache_misses_total[5m])))
//
//   # Lazy delete failures
//   rate(doccache_lazy_deletes_total{result="failed"}[5m])
//
//   # CouchDB server errors
//   sum(rate(doccache_couchdb_requests_total{status=~"5.."}[5m]))
//
//   # P95 CouchDB latency
//   histogram_quantile(0.95, rate(doccache_couchdb_request_duration_seconds_bucket[5m]))

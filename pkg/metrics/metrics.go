// Package metrics exposes the Prometheus registry the pipeline reports to.
// Metrics are defined with promauto in the packages that update them, so
// this package only documents them and serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by bulkfetch.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Pipeline Metrics (pkg/pipeline):
//   - bulkfetch_runs_total{status} (Counter): Runs by final status (ok, cancelled, export_failed, invalid)
//   - bulkfetch_outcomes_total{status} (Counter): Outcomes by status (ok, transient, terminal, not_attempted)
//   - bulkfetch_run_duration_seconds (Histogram): Wall time of a run
//
// Fetch Metrics (pkg/fetch):
//   - bulkfetch_fetch_attempts_total{error_class} (Counter): Attempts by result class (empty = success)
//   - bulkfetch_fetch_duration_seconds (Histogram): Duration of single attempts
//   - bulkfetch_retries_total{error_class} (Counter): Retries by error class
//   - bulkfetch_retry_exhausted_total{error_class} (Counter): Identifiers that used every attempt
//   - bulkfetch_http_requests_total{category, status} (Counter): Source requests by status
//   - bulkfetch_http_request_duration_seconds{category} (Histogram): Source request duration
//
// Limiter Metrics (pkg/limiter):
//   - bulkfetch_limiter_in_flight (Gauge): Permits currently held
//   - bulkfetch_limiter_wait_seconds (Histogram): Time waiting for a permit
//
// Cache Metrics (pkg/cache):
//   - bulkfetch_cache_hits_total{layer="redis"} (Counter): Page cache hits
//   - bulkfetch_cache_misses_total (Counter): Page cache misses
//   - bulkfetch_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - bulkfetch_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - bulkfetch_cooldowns_total{status} (Counter): Cooldowns started by 429/503
//   - bulkfetch_cooldown_wait_seconds (Histogram): Time spent waiting out cooldowns
//
// Example Prometheus Queries:
//
//   # Success ratio over the last hour
//   sum(increase(bulkfetch_outcomes_total{status="ok"}[1h])) /
//   sum(increase(bulkfetch_outcomes_total[1h]))
//
//   # Retry pressure by class
//   sum by (error_class) (rate(bulkfetch_retries_total[5m]))
//
//   # P95 source latency
//   histogram_quantile(0.95, rate(bulkfetch_http_request_duration_seconds_bucket[5m]))
//
//   # Cache hit rate
//   sum(rate(bulkfetch_cache_hits_total[5m])) /
//   (sum(rate(bulkfetch_cache_hits_total[5m])) + sum(rate(bulkfetch_cache_misses_total[5m])))

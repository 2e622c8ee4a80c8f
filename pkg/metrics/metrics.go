// Package metrics provides the centralized Prometheus metrics registry for
// the batch engine. All metrics are defined in their respective packages
// (client, ratelimit, pagination, batch) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the batch engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - forge_rate_limit_remaining (Gauge): Request quota remaining in the current window
//   - forge_rate_limit_waits_total{reason} (Counter): Waits imposed by the limiter (quota, spacing)
//   - forge_rate_limit_wait_seconds (Histogram): Duration of limiter waits
//
// Request Metrics (pkg/client):
//   - forge_requests_total{method, status} (Counter): Total requests by method and HTTP status
//   - forge_request_duration_seconds{method} (Histogram): Request duration by method
//   - forge_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - forge_retries_total{error_class} (Counter): Retry attempts by error class
//   - forge_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - forge_retry_exhausted_total{error_class} (Counter): Requests that exhausted max attempts
//
// Pagination Metrics (pkg/pagination):
//   - forge_pages_fetched_total (Counter): Listing pages fetched
//   - forge_page_limit_hits_total (Counter): Listings that hit the page safety cap
//
// Job Metrics (pkg/batch):
//   - glbatch_jobs_total{status} (Counter): Finished jobs by final status
//   - glbatch_items_total{outcome} (Counter): Processed items by outcome (success, skipped-existing, failed)
//   - glbatch_active_jobs (Gauge): Jobs currently running
//   - glbatch_job_duration_seconds (Histogram): Wall time of finished jobs
//
// Example Prometheus Queries:
//
//   # Skip Rate (idempotent re-runs)
//   sum(rate(glbatch_items_total{outcome="skipped-existing"}[5m])) /
//   sum(rate(glbatch_items_total[5m]))
//
//   # Quota Pressure
//   forge_rate_limit_remaining < 20
//
//   # Request Error Rate
//   rate(forge_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(forge_request_duration_seconds_bucket[5m]))
//
//   # Retry Exhaustion Rate
//   rate(forge_retry_exhausted_total[5m])

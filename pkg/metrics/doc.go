// Package metrics exposes Prometheus instrumentation for the throttle gate,
// the response size estimator, the Redis-backed shared bucket and the crawl
// driver.
//
// Components take a *Registry; a nil Registry disables recording. Build one
// per Prometheus registerer, since registering the same collectors twice
// panics:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewRegistry(reg)
//	g, err := gate.New(gate.Config{BPSEnabled: true, BPSCapacity: 4 << 20, BPSLimit: 1 << 20, Metrics: m})
//
// # Available Metrics
//
//   - crawlqos_gate_admissions_total{gate}
//   - crawlqos_gate_waits_total{gate,bucket}
//   - crawlqos_gate_wait_duration_seconds{gate}
//   - crawlqos_gate_errors_total{gate,reason}
//   - crawlqos_gate_bytes_reserved_total{gate}
//   - crawlqos_bucket_tokens_available{gate,bucket}
//   - crawlqos_estimator_estimate_bytes{gate}
//   - crawlqos_estimator_responses_total{gate,outcome}
//   - crawlqos_estimator_response_bytes_total{gate}
//   - crawlqos_distributed_fallbacks_total{key}
//   - crawlqos_crawl_fetches_total{crawler,outcome}
//   - crawlqos_crawl_fetch_duration_seconds{crawler}
//   - crawlqos_crawl_queued_urls{crawler}
//   - crawlqos_crawl_active_workers{crawler}
package metrics

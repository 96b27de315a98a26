// Package metric provides Prometheus metrics for the ledger backup tool.
//
//   - prometheus.go: registry, recording helpers and the HTTP handler
//   - collector.go: scrape-time collector for the served ledger
//
// Metrics include:
//
//   - Backup service request counts and latency
//   - Backup and restore runs, chunks, entries and bytes
//   - Range proof cache effectiveness
//
// Metrics are exposed at /metrics in Prometheus format.
package metric

// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Store commits and rejections per domain and source
//   - Domain staleness and current sequence
//   - Poll outcomes, latencies, and coalesced ticks
//   - Stream connection status, reconnects, and frame outcomes
//   - Journal rows written and conflicts
//
// All methods are safe on a nil *Metrics so components can run without it.
package metrics

// Package monitoring provides Prometheus metrics for the multiplexer.
//
// Each Metrics value owns its own registry so tests can construct isolated
// instances without duplicate-registration panics. The daemon exposes the
// collector at GET /metrics.
package monitoring

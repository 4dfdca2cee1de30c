// Package prometheus exposes engine metrics through a client_golang
// collector. Counters are exported as zerotrust_*_total and the validate
// latency as the zerotrust_validate_latency_seconds histogram.
//
// Callers own the registry; nothing is registered globally.
package prometheus

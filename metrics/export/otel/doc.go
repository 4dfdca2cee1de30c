// Package otel binds engine metrics to an OpenTelemetry meter. Counters
// become Int64ObservableCounter instruments; the latency histogram is
// reported as cumulative bucket gauges keyed by an "le" attribute.
//
// Callers supply the Meter and own its provider.
package otel

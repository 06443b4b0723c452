// Package otel publishes authgate engine metrics through an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per engine counter and,
// for the validation latency histogram, a cumulative gauge per bucket plus
// count and sum gauges. A single callback reads [authgate.Engine.MetricsSnapshot]
// on each collection cycle.
//
// Callers own the MeterProvider. The exporter never mutates engine state.
package otel

// Package prometheus exposes authgate engine metrics to Prometheus.
//
// [Collector] implements prometheus.Collector over [authgate.Engine.MetricsSnapshot].
// [NewPrometheusExporter] registers it on a private registry and serves it
// through promhttp, so nothing leaks into the global default registry.
// Counters are named authgate_*_total; the single histogram is
// authgate_validate_latency_seconds.
package prometheus

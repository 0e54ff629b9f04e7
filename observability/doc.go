// Package observability provides an OpenTelemetry-based metrics
// extension for Skein. The MetricsExtension implements lifecycle hooks
// to record system-wide counters for instance starts, completions,
// failures, cancellations, checkpoint commits, degraded replications,
// and quarantined records, plus a gauge for the age of the oldest
// operation still awaiting its completion.
//
// For per-slice tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

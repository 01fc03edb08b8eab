// Package observability provides an OpenTelemetry metrics extension for
// coord. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for job submission and completion, task enqueue,
// assignment, completion, failure, recovery and release, and worker
// membership changes.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

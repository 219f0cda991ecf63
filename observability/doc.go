// Package observability provides an OpenTelemetry metrics extension for
// genqueue. The MetricsExtension implements lifecycle hooks to record
// counters for enqueue, start, completion, failure and cancellation, plus
// a histogram of time spent queued.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

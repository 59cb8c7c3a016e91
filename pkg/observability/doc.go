// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing setup, and health checks for the Onramp daemon.
//
// Logging uses a thin wrapper around stdlib slog with JSON output. Metrics
// cover saga runs, steps, and compensations, reconciliation cycles and
// events, identity-provider calls, and database pool stats. Tracing emits
// one span per saga run and per step via the OTLP gRPC exporter.
package observability

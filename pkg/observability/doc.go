// Package observability provides structured logging, Prometheus metrics,
// health checks for the storage tiers, and optional OpenTelemetry tracing.
package observability

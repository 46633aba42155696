// Package storage provides the clients for the three storage tiers the
// telemetry core writes through: a low-latency shared Redis tier, a durable
// S3-compatible object store holding one JSON document per logical record,
// and a relational database for raw events and rollup rows.
//
// Tier selection is configuration driven: a tier with no configuration is
// never constructed, and a constructed tier that fails at runtime is handled
// by the callers' fallback cascade rather than here.
package storage

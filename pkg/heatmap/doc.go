// Package heatmap accumulates per-slug spatial cell counters keyed by a
// (bucket, section, type, cell) composite. Recording is atomic per batch on
// the shared tier with an in-process fallback, and each batch is forwarded
// best-effort to a durable daily rollup sink. Snapshots render the counters
// as dense row-major grids.
package heatmap

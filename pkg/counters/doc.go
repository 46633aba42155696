// Package counters tracks per-slug view and like counters with idempotent
// per-viewer dedup. Writes go through a ranked backend cascade: the shared
// Redis tier, then the durable object store, then process memory. A tier
// that errors at runtime is skipped for that call with a warning; the memory
// tier always succeeds.
package counters

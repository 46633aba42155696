// Package auditlog keeps an append-only, newest-first record of manual
// metric overrides, capped at 500 entries. Entries land on the first
// available backend: the shared list tier, the durable JSON document, or
// process memory.
package auditlog

// Package events ingests batched interaction events and rolls them up into
// fixed 10-minute windows with unique-session counting. Accepted events are
// queued on the shared tier when available, persisted and folded directly
// into the relational rollups otherwise, or buffered in a bounded in-process
// ring as a last resort. Flushing drains the queue into the rollups with
// merge-accumulate upserts; a batch that fails after dequeue is not
// re-enqueued.
package events

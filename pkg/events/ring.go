package events

import (
	"sync"
)

// Ring is the bounded in-process fallback buffer. When full, the oldest
// records are evicted to admit new ones.
type Ring struct {
	mu      sync.Mutex
	records []EventRecord
	cap     int
}

// NewRing creates a ring with the default capacity.
func NewRing() *Ring {
	return &Ring{cap: ringCapacity}
}

func newRingWithCapacity(capacity int) *Ring {
	return &Ring{cap: capacity}
}

// Append adds records, evicting the oldest beyond capacity.
func (r *Ring) Append(records []EventRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, records...)
	if overflow := len(r.records) - r.cap; overflow > 0 {
		r.records = r.records[overflow:]
	}
}

// All returns a copy of the buffered records, oldest first.
func (r *Ring) All() []EventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EventRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Len reports how many records are buffered.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

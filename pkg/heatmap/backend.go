package heatmap

import (
	"context"
	"sort"
	"sync"
)

// Backend is one storage tier for heatmap accumulators. IncrFields must
// apply all increments of one call atomically so no torn state is readable.
type Backend interface {
	Name() string
	IncrFields(ctx context.Context, slug string, increments map[FieldKey]int64) error
	LoadFields(ctx context.Context, slug string) (map[FieldKey]int64, error)
	ListSlugs(ctx context.Context) ([]string, error)
}

// memoryBackend holds accumulators in a nested map. The single mutex makes
// each call's increments atomic with respect to readers.
type memoryBackend struct {
	mu    sync.Mutex
	slugs map[string]map[FieldKey]int64
}

// NewMemoryBackend creates the in-process heatmap tier.
func NewMemoryBackend() Backend {
	return &memoryBackend{slugs: make(map[string]map[FieldKey]int64)}
}

func (b *memoryBackend) Name() string { return "memory" }

func (b *memoryBackend) IncrFields(ctx context.Context, slug string, increments map[FieldKey]int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	fields, ok := b.slugs[slug]
	if !ok {
		fields = make(map[FieldKey]int64)
		b.slugs[slug] = fields
	}
	for key, n := range increments {
		fields[key] += n
	}
	return nil
}

func (b *memoryBackend) LoadFields(ctx context.Context, slug string) (map[FieldKey]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[FieldKey]int64, len(b.slugs[slug]))
	for key, n := range b.slugs[slug] {
		out[key] = n
	}
	return out, nil
}

func (b *memoryBackend) ListSlugs(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slugs := make([]string, 0, len(b.slugs))
	for slug := range b.slugs {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

package counters

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/calyptra/pulse/pkg/storage"
)

// objectStore is the slice of storage.ObjectClient the backend uses.
type objectStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	PutJSON(ctx context.Context, key string, doc interface{}) error
}

// objectBackend keeps one JSON document per slug at counters/<slug>.json.
// The object store holds no per-viewer state, so membership lives in the
// same in-process sets the memory tier uses. Read-modify-write cycles are
// serialized per process with a mutex.
type objectBackend struct {
	mu      sync.Mutex
	store   objectStore
	members *memberSets
}

// NewObjectBackend wraps an object-store client as a counter tier.
func NewObjectBackend(store objectStore) Backend {
	return &objectBackend{store: store, members: newMemberSets()}
}

func (b *objectBackend) Name() string { return "object" }

func objectKey(slug string) string { return "counters/" + slug + ".json" }

func (b *objectBackend) Load(ctx context.Context, slug string) (*Snapshot, error) {
	snap := &Snapshot{}
	err := b.store.GetJSON(ctx, objectKey(slug), snap)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading counter document for %q: %w", slug, err)
	}
	if snap.Likes < 0 {
		snap.Likes = 0
	}
	sortHistory(snap.History)
	return snap, nil
}

func (b *objectBackend) IncrView(ctx context.Context, slug, day string) (*Snapshot, error) {
	return b.mutate(ctx, slug, func(snap *Snapshot) {
		snap.Views++
		bumpHistory(snap, day, 1, 0)
	})
}

func (b *objectBackend) AdjustLikes(ctx context.Context, slug, day string, delta int64) (*Snapshot, error) {
	return b.mutate(ctx, slug, func(snap *Snapshot) {
		snap.Likes += delta
		if snap.Likes < 0 {
			snap.Likes = 0
		}
		bumpHistory(snap, day, 0, delta)
	})
}

func (b *objectBackend) Overwrite(ctx context.Context, slug string, snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.store.PutJSON(ctx, objectKey(slug), snap); err != nil {
		return fmt.Errorf("overwriting counter document for %q: %w", slug, err)
	}
	return nil
}

func (b *objectBackend) MarkViewed(ctx context.Context, slug, viewerID string) (bool, error) {
	return b.members.markViewed(slug, viewerID), nil
}

func (b *objectBackend) HasLiked(ctx context.Context, slug, viewerID string) (bool, error) {
	return b.members.hasLiked(slug, viewerID), nil
}

func (b *objectBackend) SetLiked(ctx context.Context, slug, viewerID string, liked bool) error {
	b.members.setLiked(slug, viewerID, liked)
	return nil
}

func (b *objectBackend) ClearMembership(ctx context.Context, slug string) error {
	b.members.clear(slug)
	return nil
}

func (b *objectBackend) mutate(ctx context.Context, slug string, apply func(*Snapshot)) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := b.Load(ctx, slug)
	if err != nil {
		return nil, err
	}
	apply(snap)
	if err := b.store.PutJSON(ctx, objectKey(slug), snap); err != nil {
		return nil, fmt.Errorf("writing counter document for %q: %w", slug, err)
	}
	return snap, nil
}

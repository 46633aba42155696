package counters

import (
	"context"
	"sync"
	"time"
)

// memberSets is the in-process viewer membership used by the memory backend,
// and by the object backend (the object tier stores no per-viewer state).
type memberSets struct {
	mu     sync.Mutex
	viewed map[string]map[string]time.Time // slug -> viewer -> expiry
	liked  map[string]map[string]time.Time
	now    func() time.Time
}

func newMemberSets() *memberSets {
	return &memberSets{
		viewed: make(map[string]map[string]time.Time),
		liked:  make(map[string]map[string]time.Time),
		now:    time.Now,
	}
}

func (m *memberSets) markViewed(slug, viewerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.viewed[slug]
	if !ok {
		set = make(map[string]time.Time)
		m.viewed[slug] = set
	}
	now := m.now()
	if exp, ok := set[viewerID]; ok && exp.After(now) {
		return false
	}
	set[viewerID] = now.Add(viewDedupTTL)
	return true
}

func (m *memberSets) hasLiked(slug, viewerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.liked[slug][viewerID]
	return ok && exp.After(m.now())
}

func (m *memberSets) setLiked(slug, viewerID string, liked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.liked[slug]
	if !ok {
		if !liked {
			return
		}
		set = make(map[string]time.Time)
		m.liked[slug] = set
	}
	if liked {
		set[viewerID] = m.now().Add(likeMembershipTTL)
	} else {
		delete(set, viewerID)
	}
}

func (m *memberSets) clear(slug string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.viewed, slug)
	delete(m.liked, slug)
}

// memoryBackend is the last-resort tier. It never returns an error.
type memoryBackend struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	members   *memberSets
}

// NewMemoryBackend creates the in-process counter tier.
func NewMemoryBackend() Backend {
	return &memoryBackend{
		snapshots: make(map[string]*Snapshot),
		members:   newMemberSets(),
	}
}

func (b *memoryBackend) Name() string { return "memory" }

func (b *memoryBackend) Load(ctx context.Context, slug string) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneSnapshot(b.snapshots[slug]), nil
}

func (b *memoryBackend) IncrView(ctx context.Context, slug, day string) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.snapshot(slug)
	snap.Views++
	bumpHistory(snap, day, 1, 0)
	return cloneSnapshot(snap), nil
}

func (b *memoryBackend) AdjustLikes(ctx context.Context, slug, day string, delta int64) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.snapshot(slug)
	snap.Likes += delta
	if snap.Likes < 0 {
		snap.Likes = 0
	}
	bumpHistory(snap, day, 0, delta)
	return cloneSnapshot(snap), nil
}

func (b *memoryBackend) Overwrite(ctx context.Context, slug string, snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots[slug] = cloneSnapshot(snap)
	return nil
}

func (b *memoryBackend) MarkViewed(ctx context.Context, slug, viewerID string) (bool, error) {
	return b.members.markViewed(slug, viewerID), nil
}

func (b *memoryBackend) HasLiked(ctx context.Context, slug, viewerID string) (bool, error) {
	return b.members.hasLiked(slug, viewerID), nil
}

func (b *memoryBackend) SetLiked(ctx context.Context, slug, viewerID string, liked bool) error {
	b.members.setLiked(slug, viewerID, liked)
	return nil
}

func (b *memoryBackend) ClearMembership(ctx context.Context, slug string) error {
	b.members.clear(slug)
	return nil
}

func (b *memoryBackend) snapshot(slug string) *Snapshot {
	snap, ok := b.snapshots[slug]
	if !ok {
		snap = &Snapshot{}
		b.snapshots[slug] = snap
	}
	return snap
}

// bumpHistory applies one day's movement, floored at zero, keeping history
// sorted by date.
func bumpHistory(snap *Snapshot, day string, dViews, dLikes int64) {
	for i := range snap.History {
		if snap.History[i].Date == day {
			snap.History[i].Views += dViews
			snap.History[i].Likes += dLikes
			if snap.History[i].Views < 0 {
				snap.History[i].Views = 0
			}
			if snap.History[i].Likes < 0 {
				snap.History[i].Likes = 0
			}
			return
		}
	}
	stat := DailyStat{Date: day, Views: dViews, Likes: dLikes}
	if stat.Views < 0 {
		stat.Views = 0
	}
	if stat.Likes < 0 {
		stat.Likes = 0
	}
	snap.History = append(snap.History, stat)
	sortHistory(snap.History)
}

func cloneSnapshot(snap *Snapshot) *Snapshot {
	if snap == nil {
		return &Snapshot{}
	}
	out := &Snapshot{Views: snap.Views, Likes: snap.Likes}
	if len(snap.History) > 0 {
		out.History = make([]DailyStat, len(snap.History))
		copy(out.History, snap.History)
	}
	return out
}

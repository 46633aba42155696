package counters

import "context"

// Backend is one storage tier for counters and viewer membership. Absence is
// never an error: unseen slugs load as zero snapshots, and membership checks
// on unseen viewers report false. Errors mean the tier itself failed and the
// caller should fall through to the next one.
type Backend interface {
	Name() string

	// Load returns the counter snapshot for a slug (zeroed when unseen).
	Load(ctx context.Context, slug string) (*Snapshot, error)
	// IncrView bumps the view counter and the day's history row.
	IncrView(ctx context.Context, slug, day string) (*Snapshot, error)
	// AdjustLikes moves the like counter by delta, floored at zero.
	AdjustLikes(ctx context.Context, slug, day string, delta int64) (*Snapshot, error)
	// Overwrite replaces the snapshot wholesale (admin path).
	Overwrite(ctx context.Context, slug string, snap *Snapshot) error

	// MarkViewed records the viewer in the slug's view-dedup set and
	// reports whether this was the first sighting inside the TTL.
	MarkViewed(ctx context.Context, slug, viewerID string) (bool, error)
	// HasLiked reports active like membership.
	HasLiked(ctx context.Context, slug, viewerID string) (bool, error)
	// SetLiked adds or removes like membership.
	SetLiked(ctx context.Context, slug, viewerID string, liked bool) error
	// ClearMembership drops all per-viewer state for a slug.
	ClearMembership(ctx context.Context, slug string) error
}

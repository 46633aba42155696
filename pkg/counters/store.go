package counters

import (
	"context"
	"fmt"
	"time"

	"github.com/calyptra/pulse/pkg/observability"
)

const component = "counters"

// Store coordinates the tier cascade. Each call runs against the first tier
// that succeeds; a failing tier is logged and skipped for that call only.
// Admin overwrites fan out to every tier so stale totals cannot resurface.
type Store struct {
	tiers   []Backend
	logger  *observability.Logger
	metrics *observability.Metrics
	loc     *time.Location
	now     func() time.Time
}

// NewStore builds a cascade from the given tiers, ranked hot to cold. The
// caller appends the memory tier last so the cascade can never be empty.
func NewStore(tiers []Backend, logger *observability.Logger, metrics *observability.Metrics, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		tiers:   tiers,
		logger:  logger,
		metrics: metrics,
		loc:     loc,
		now:     time.Now,
	}
}

func (s *Store) today() string {
	return s.now().In(s.loc).Format(DateFormat)
}

// GetMetrics reads the counter snapshot, optionally annotated with the
// viewer's like state and a date-range total.
func (s *Store) GetMetrics(ctx context.Context, slug string, opts GetOptions) (*MetricsResult, error) {
	var result *MetricsResult
	err := s.cascade(ctx, "get", func(tier Backend) error {
		snap, err := tier.Load(ctx, slug)
		if err != nil {
			return err
		}
		result = &MetricsResult{
			Views:   snap.Views,
			Likes:   snap.Likes,
			History: snap.History,
		}
		if result.History == nil {
			result.History = []DailyStat{}
		}
		if opts.ViewerID != "" {
			liked, err := tier.HasLiked(ctx, slug, opts.ViewerID)
			if err != nil {
				return err
			}
			result.Liked = &liked
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !opts.StartDate.IsZero() && !opts.EndDate.IsZero() {
		result.RangeTotals = rangeTotals(result.History, opts.StartDate, opts.EndDate)
	}
	return result, nil
}

// BumpView counts one view. A viewer already in the dedup set gets the
// current totals back untouched; an empty viewer id always counts.
func (s *Store) BumpView(ctx context.Context, slug, viewerID string) (*BumpResult, error) {
	day := s.today()

	var result *BumpResult
	err := s.cascade(ctx, "bump", func(tier Backend) error {
		first := true
		if viewerID != "" {
			var err error
			first, err = tier.MarkViewed(ctx, slug, viewerID)
			if err != nil {
				return err
			}
		}

		var snap *Snapshot
		var err error
		if first {
			snap, err = tier.IncrView(ctx, slug, day)
		} else {
			snap, err = tier.Load(ctx, slug)
		}
		if err != nil {
			return err
		}

		liked := false
		if viewerID != "" {
			liked, err = tier.HasLiked(ctx, slug, viewerID)
			if err != nil {
				return err
			}
		}
		result = &BumpResult{
			Views:   snap.Views,
			Likes:   snap.Likes,
			Liked:   liked,
			Deduped: !first,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		if result.Deduped {
			s.metrics.ViewsDedupedTotal.Inc()
		} else {
			s.metrics.ViewsBumpedTotal.Inc()
		}
	}
	return result, nil
}

// SetLikeState moves the viewer's like to the desired state, or flips the
// current state when desired is nil. Repeating the current state is a no-op
// that returns the live totals. An empty viewer id carries no membership, so
// the counter moves on every call (floored at zero), same as anonymous views.
func (s *Store) SetLikeState(ctx context.Context, slug, viewerID string, desired *bool) (*LikeResult, error) {
	day := s.today()

	var result *LikeResult
	var toggled, target bool
	err := s.cascade(ctx, "like", func(tier Backend) error {
		current := false
		if viewerID != "" {
			var err error
			current, err = tier.HasLiked(ctx, slug, viewerID)
			if err != nil {
				return err
			}
		}
		target = !current
		if desired != nil {
			target = *desired
		}

		var snap *Snapshot
		var err error
		switch {
		case viewerID == "":
			toggled = true
			snap, err = tier.AdjustLikes(ctx, slug, day, likeDelta(target))
		case current == target:
			toggled = false
			snap, err = tier.Load(ctx, slug)
		default:
			toggled = true
			if err = tier.SetLiked(ctx, slug, viewerID, target); err != nil {
				return err
			}
			snap, err = tier.AdjustLikes(ctx, slug, day, likeDelta(target))
		}
		if err != nil {
			return err
		}
		result = &LikeResult{Views: snap.Views, Likes: snap.Likes, Liked: target}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if toggled && s.metrics != nil {
		direction := "like"
		if !target {
			direction = "unlike"
		}
		s.metrics.LikeTogglesTotal.WithLabelValues(direction).Inc()
	}
	return result, nil
}

func likeDelta(liked bool) int64 {
	if liked {
		return 1
	}
	return -1
}

// OverwriteMetrics replaces totals and history wholesale. Nil payload fields
// keep the current value. The write fans out to every tier, and viewer
// membership is cleared so old dedup state cannot contradict the new totals.
func (s *Store) OverwriteMetrics(ctx context.Context, slug string, input OverwriteInput) (*Snapshot, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	var current *Snapshot
	err := s.cascade(ctx, "overwrite-load", func(tier Backend) error {
		var err error
		current, err = tier.Load(ctx, slug)
		return err
	})
	if err != nil {
		return nil, err
	}

	next := cloneSnapshot(current)
	if input.Views != nil {
		next.Views = *input.Views
	}
	if input.Likes != nil {
		next.Likes = *input.Likes
	}
	if input.History != nil {
		next.History = make([]DailyStat, len(input.History))
		copy(next.History, input.History)
		sortHistory(next.History)
	}

	var wrote bool
	for _, tier := range s.tiers {
		if err := tier.Overwrite(ctx, slug, next); err != nil {
			s.tierFailed(ctx, tier, "overwrite", err)
			continue
		}
		if err := tier.ClearMembership(ctx, slug); err != nil {
			s.tierFailed(ctx, tier, "overwrite-clear", err)
			continue
		}
		wrote = true
	}
	if !wrote {
		return nil, fmt.Errorf("overwriting counters for %q: no storage tier accepted the write", slug)
	}

	if s.metrics != nil {
		s.metrics.MetricOverwrites.Inc()
	}
	return next, nil
}

// cascade runs op against each tier in rank order until one succeeds.
func (s *Store) cascade(ctx context.Context, op string, fn func(Backend) error) error {
	var lastErr error
	for i, tier := range s.tiers {
		if err := fn(tier); err != nil {
			lastErr = err
			s.tierFailed(ctx, tier, op, err)
			if s.metrics != nil && i < len(s.tiers)-1 {
				s.metrics.TierFallbacksTotal.WithLabelValues(component, tier.Name()).Inc()
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("all storage tiers failed: %w", lastErr)
}

func (s *Store) tierFailed(ctx context.Context, tier Backend, op string, err error) {
	if s.metrics != nil {
		s.metrics.TierErrorsTotal.WithLabelValues(component, tier.Name()).Inc()
	}
	if s.logger == nil {
		return
	}
	logger := s.logger
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	if viewerID := observability.GetViewerID(ctx); viewerID != "" {
		logger = logger.WithField("viewer_id", viewerID)
	}
	logger.WithError(err).WithFields(map[string]interface{}{
		"tier": tier.Name(),
		"op":   op,
	}).Warn("storage tier failed, falling through")
}

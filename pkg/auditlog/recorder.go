package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calyptra/pulse/pkg/observability"
)

const component = "auditlog"

// Recorder coordinates the audit tier cascade.
type Recorder struct {
	tiers   []Backend
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRecorder builds the audit log over the given tiers, ranked hot to cold.
func NewRecorder(tiers []Backend, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		tiers:   tiers,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Record sanitizes and appends entries, newest first. Missing ids and
// timestamps are filled in.
func (r *Recorder) Record(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	prepared := make([]Entry, len(entries))
	for i, e := range entries {
		e.Slug = truncateField(e.Slug)
		e.ChangedBy = truncateField(e.ChangedBy)
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.ChangedAt == "" {
			e.ChangedAt = r.now().UTC().Format(time.RFC3339)
		}
		prepared[i] = e
	}

	return r.cascade(ctx, "record", func(tier Backend) error {
		return tier.Prepend(ctx, prepared)
	})
}

// RecordChange builds and records one override entry. It satisfies the
// audit sink the counter handlers expect.
func (r *Recorder) RecordChange(ctx context.Context, slug, changedBy string, before, after interface{}) error {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return fmt.Errorf("encoding audit before state: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return fmt.Errorf("encoding audit after state: %w", err)
	}
	return r.Record(ctx, []Entry{{
		Slug:      slug,
		ChangedBy: changedBy,
		Before:    beforeJSON,
		After:     afterJSON,
	}})
}

// List returns newest-first entries, optionally filtered by slug, up to
// limit (default 50, cap 500).
func (r *Recorder) List(ctx context.Context, q ListQuery) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxEntries {
		limit = MaxEntries
	}

	slugs := make(map[string]bool, len(q.Slugs))
	for _, slug := range q.Slugs {
		slugs[slug] = true
	}

	var entries []Entry
	err := r.cascade(ctx, "list", func(tier Backend) error {
		all, err := tier.Entries(ctx)
		if err != nil {
			return err
		}
		entries = entries[:0]
		for _, e := range all {
			if len(slugs) > 0 && !slugs[e.Slug] {
				continue
			}
			entries = append(entries, e)
			if len(entries) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

func (r *Recorder) cascade(ctx context.Context, op string, fn func(Backend) error) error {
	var lastErr error
	for i, tier := range r.tiers {
		if err := fn(tier); err != nil {
			lastErr = err
			if r.metrics != nil {
				r.metrics.TierErrorsTotal.WithLabelValues(component, tier.Name()).Inc()
				if i < len(r.tiers)-1 {
					r.metrics.TierFallbacksTotal.WithLabelValues(component, tier.Name()).Inc()
				}
			}
			if r.logger != nil {
				r.logger.WithError(err).WithFields(map[string]interface{}{
					"tier": tier.Name(),
					"op":   op,
				}).Warn("audit tier failed, falling through")
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("all audit tiers failed: %w", lastErr)
}

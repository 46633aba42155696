package events

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Summary aggregates rollup rows (or, without a relational store, the ring
// buffer) into totals, a time series at the requested granularity, and the
// catalog. Unique-session counts are summed across windows; exact
// cross-window cardinality is out of scope.
func (p *Pipeline) Summary(ctx context.Context, q SummaryQuery) (*SummaryResult, error) {
	if q.Granularity == "" {
		q.Granularity = GranularityTenMinute
	}
	switch q.Granularity {
	case GranularityTenMinute, GranularityDay, GranularityWeek, GranularityMonth:
	default:
		return nil, fmt.Errorf("unknown granularity %q", q.Granularity)
	}

	var rollups []Rollup
	var err error
	if p.store != nil {
		rollups, err = p.store.QueryRollups(ctx, q)
		if err != nil {
			return nil, err
		}
	} else {
		rollups = p.ringRollups(q)
	}

	result := &SummaryResult{
		TotalsByEvent: make(map[string]int64),
		TotalsBySlug:  make(map[string]int64),
		Series:        []SeriesPoint{},
	}

	series := make(map[string]*SeriesPoint)
	for _, r := range rollups {
		result.TotalsByEvent[r.EventName] += r.VisitCount
		if r.Slug != "" {
			result.TotalsBySlug[r.Slug] += r.VisitCount
		}

		key := p.seriesKey(r.BucketStart, q.Granularity)
		point, ok := series[key]
		if !ok {
			point = &SeriesPoint{Key: key}
			series[key] = point
		}
		point.VisitCount += r.VisitCount
		point.UniqueSessions += r.UniqueSessions
	}

	keys := make([]string, 0, len(series))
	for key := range series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		result.Series = append(result.Series, *series[key])
	}

	catalog, err := p.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	result.Catalog = *catalog

	return result, nil
}

// Catalog lists the allow-listed event names and the slugs seen so far.
func (p *Pipeline) Catalog(ctx context.Context) (*Catalog, error) {
	catalog := &Catalog{EventNames: KnownEventNames(), Slugs: []string{}}

	if p.store != nil {
		slugs, err := p.store.DistinctSlugs(ctx)
		if err != nil {
			return nil, err
		}
		if slugs != nil {
			catalog.Slugs = slugs
		}
		return catalog, nil
	}

	seen := make(map[string]bool)
	for _, rec := range p.ring.All() {
		if rec.Slug != "" {
			seen[rec.Slug] = true
		}
	}
	for slug := range seen {
		catalog.Slugs = append(catalog.Slugs, slug)
	}
	sort.Strings(catalog.Slugs)
	return catalog, nil
}

// ringRollups folds the ring buffer into window aggregates, applying the
// query filters. Session uniqueness here is exact per window since the raw
// rows are at hand.
func (p *Pipeline) ringRollups(q SummaryQuery) []Rollup {
	events := make(map[string]bool, len(q.EventNames))
	for _, name := range q.EventNames {
		events[name] = true
	}
	slugs := make(map[string]bool, len(q.Slugs))
	for _, slug := range q.Slugs {
		slugs[slug] = true
	}

	var filtered []EventRecord
	for _, rec := range p.ring.All() {
		if len(events) > 0 && !events[rec.EventName] {
			continue
		}
		if len(slugs) > 0 && !slugs[rec.Slug] {
			continue
		}
		if !q.Start.IsZero() && rec.OccurredAt.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && rec.OccurredAt.After(q.End) {
			continue
		}
		filtered = append(filtered, rec)
	}

	groups := groupRecords(filtered)
	rollups := make([]Rollup, 0, len(groups))
	for key, g := range groups {
		rollups = append(rollups, Rollup{
			BucketStart:    key.bucket,
			EventName:      key.event,
			Slug:           key.slug,
			VisitCount:     g.visitCount,
			UniqueSessions: int64(len(g.sessions)),
			LastSeenAt:     g.lastSeen,
		})
	}
	sort.Slice(rollups, func(i, j int) bool {
		return rollups[i].BucketStart.Before(rollups[j].BucketStart)
	})
	return rollups
}

// seriesKey derives the timezone-aware series bucket key.
func (p *Pipeline) seriesKey(bucket time.Time, g Granularity) string {
	local := bucket.In(p.loc)
	switch g {
	case GranularityDay:
		return local.Format("2006-01-02")
	case GranularityWeek:
		// Key by the Monday of the ISO week.
		offset := (int(local.Weekday()) + 6) % 7
		return local.AddDate(0, 0, -offset).Format("2006-01-02")
	case GranularityMonth:
		return local.Format("2006-01")
	default:
		return local.Format("2006-01-02T15:04")
	}
}

package heatmap

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/calyptra/pulse/pkg/async"
	"github.com/calyptra/pulse/pkg/observability"
)

const (
	component   = "heatmap"
	sinkTimeout = 10 * time.Second
)

// Aggregator coordinates the tier cascade and the durable rollup sink.
type Aggregator struct {
	tiers   []Backend
	sink    RollupSink
	logger  *observability.Logger
	metrics *observability.Metrics
	loc     *time.Location
	now     func() time.Time

	// forward dispatches the rollup side write; swapped in tests.
	forward func(taskName string, fn func(context.Context) error)
}

// NewAggregator builds the heatmap service. The sink may be nil when no
// relational store is configured.
func NewAggregator(tiers []Backend, sink RollupSink, logger *observability.Logger, metrics *observability.Metrics, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	a := &Aggregator{
		tiers:   tiers,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		loc:     loc,
		now:     time.Now,
	}
	a.forward = func(taskName string, fn func(context.Context) error) {
		async.SafeGo(logger, sinkTimeout, taskName, fn)
	}
	return a
}

// Record merges and applies one sample batch. The merged cells also flow to
// the durable rollup sink in the background; sink failure never surfaces
// here.
func (a *Aggregator) Record(ctx context.Context, slug string, input RecordInput) (*RecordResult, error) {
	increments := mergeSamples(input)
	if len(increments) == 0 {
		return &RecordResult{}, nil
	}

	err := a.cascade(ctx, "record", func(tier Backend) error {
		return tier.IncrFields(ctx, slug, increments)
	})
	if err != nil {
		return nil, err
	}

	if a.metrics != nil {
		var total int64
		for _, n := range increments {
			total += n
		}
		a.metrics.HeatmapCellsTotal.Add(float64(total))
		a.metrics.HeatmapBatchSize.Observe(float64(len(increments)))
	}

	if a.sink != nil {
		rows := a.rollupRows(slug, increments)
		a.forward("heatmap-rollup", func(ctx context.Context) error {
			if err := a.sink.AddRollups(ctx, rows); err != nil {
				if a.metrics != nil {
					a.metrics.HeatmapRollupErrors.Inc()
				}
				return err
			}
			return nil
		})
	}

	return &RecordResult{Recorded: len(increments)}, nil
}

// Snapshot renders the slug's accumulators as per-bucket grids. A slug with
// no samples yields a snapshot with no buckets, not an error.
func (a *Aggregator) Snapshot(ctx context.Context, slug string) (*Snapshot, error) {
	var fields map[FieldKey]int64
	err := a.cascade(ctx, "snapshot", func(tier Backend) error {
		var err error
		fields, err = tier.LoadFields(ctx, slug)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buildSnapshot(slug, fields), nil
}

// ListSummaries reports total samples and known buckets per slug.
func (a *Aggregator) ListSummaries(ctx context.Context) ([]Summary, error) {
	var summaries []Summary
	err := a.cascade(ctx, "list", func(tier Backend) error {
		slugs, err := tier.ListSlugs(ctx)
		if err != nil {
			return err
		}
		summaries = summaries[:0]
		for _, slug := range slugs {
			fields, err := tier.LoadFields(ctx, slug)
			if err != nil {
				return err
			}
			summary := Summary{Slug: slug, Buckets: []string{}}
			buckets := make(map[string]bool)
			for key, n := range fields {
				summary.TotalSamples += n
				buckets[key.Bucket] = true
			}
			for bucket := range buckets {
				summary.Buckets = append(summary.Buckets, bucket)
			}
			sort.Strings(summary.Buckets)
			summaries = append(summaries, summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []Summary{}
	}
	return summaries, nil
}

// mergeSamples sanitizes and coalesces a batch by (section, type, cell),
// keeping at most maxMergedCells distinct cells.
func mergeSamples(input RecordInput) map[FieldKey]int64 {
	bucket := sanitizePart(input.Bucket, DefaultBucket)

	merged := make(map[FieldKey]int64)
	for _, sample := range input.Cells {
		if sample.Cell < 0 {
			continue
		}
		count := sample.Count
		if count <= 0 {
			count = 1
		}
		key := FieldKey{
			Bucket:  bucket,
			Section: sanitizePart(sample.Section, DefaultSection),
			Type:    sanitizePart(sample.Type, DefaultType),
			Cell:    sample.Cell,
		}
		if _, seen := merged[key]; !seen && len(merged) >= maxMergedCells {
			continue
		}
		merged[key] += count
	}
	return merged
}

func (a *Aggregator) rollupRows(slug string, increments map[FieldKey]int64) []RollupRow {
	dateKey := a.now().In(a.loc).Format("2006-01-02")
	rows := make([]RollupRow, 0, len(increments))
	for key, n := range increments {
		rows = append(rows, RollupRow{DateKey: dateKey, Slug: slug, Key: key, Count: n})
	}
	return rows
}

// buildSnapshot groups fields by bucket and renders each as a dense grid.
func buildSnapshot(slug string, fields map[FieldKey]int64) *Snapshot {
	byBucket := make(map[string][]CellCount)
	for key, count := range fields {
		byBucket[key.Bucket] = append(byBucket[key.Bucket], CellCount{
			Section: key.Section,
			Type:    key.Type,
			Cell:    key.Cell,
			Count:   count,
		})
	}

	snap := &Snapshot{Slug: slug, Buckets: []BucketView{}}
	if len(byBucket) == 0 {
		// No samples yet: an explicit zero grid, not an error.
		snap.Buckets = append(snap.Buckets, buildBucketView(DefaultBucket, nil))
		return snap
	}
	bucketNames := make([]string, 0, len(byBucket))
	for bucket := range byBucket {
		bucketNames = append(bucketNames, bucket)
	}
	sort.Strings(bucketNames)
	for _, bucket := range bucketNames {
		snap.Buckets = append(snap.Buckets, buildBucketView(bucket, byBucket[bucket]))
	}
	return snap
}

func buildBucketView(bucket string, cells []CellCount) BucketView {
	view := BucketView{
		Bucket:        bucket,
		Cols:          GridCols,
		SectionTotals: make(map[string]int64),
		TypeTotals:    make(map[string]int64),
		TopCells:      []CellCount{},
	}

	maxIndex := -1
	for _, c := range cells {
		if c.Cell > maxIndex {
			maxIndex = c.Cell
		}
		view.Total += c.Count
		if c.Count > view.Max {
			view.Max = c.Count
		}
		view.SectionTotals[c.Section] += c.Count
		view.TypeTotals[c.Type] += c.Count
	}
	view.Rows = (maxIndex + 1 + GridCols - 1) / GridCols

	view.Counts = make([][]int64, view.Rows)
	view.Ratio = make([][]float64, view.Rows)
	view.Intensity = make([][]float64, view.Rows)
	for row := 0; row < view.Rows; row++ {
		view.Counts[row] = make([]int64, GridCols)
		view.Ratio[row] = make([]float64, GridCols)
		view.Intensity[row] = make([]float64, GridCols)
	}
	for _, c := range cells {
		view.Counts[c.Cell/GridCols][c.Cell%GridCols] += c.Count
	}
	for row := 0; row < view.Rows; row++ {
		for col := 0; col < GridCols; col++ {
			n := view.Counts[row][col]
			if n == 0 {
				continue
			}
			view.Ratio[row][col] = float64(n) / float64(view.Total)
			view.Intensity[row][col] = float64(n) / float64(view.Max)
		}
	}

	sorted := make([]CellCount, len(cells))
	copy(sorted, cells)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return sorted[i].Cell < sorted[j].Cell
	})
	if len(sorted) > topCellCount {
		sorted = sorted[:topCellCount]
	}
	view.TopCells = sorted

	return view
}

func (a *Aggregator) cascade(ctx context.Context, op string, fn func(Backend) error) error {
	var lastErr error
	for i, tier := range a.tiers {
		if err := fn(tier); err != nil {
			lastErr = err
			if a.metrics != nil {
				a.metrics.TierErrorsTotal.WithLabelValues(component, tier.Name()).Inc()
				if i < len(a.tiers)-1 {
					a.metrics.TierFallbacksTotal.WithLabelValues(component, tier.Name()).Inc()
				}
			}
			if a.logger != nil {
				a.logger.WithError(err).WithFields(map[string]interface{}{
					"tier": tier.Name(),
					"op":   op,
				}).Warn("storage tier failed, falling through")
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("all storage tiers failed: %w", lastErr)
}

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/calyptra/pulse/pkg/observability"
)

// Pipeline coordinates ingestion, the queue, the relational rollups, and the
// in-process fallback ring.
type Pipeline struct {
	queue      *Queue
	store      RollupStore
	ring       *Ring
	logger     *observability.Logger
	metrics    *observability.Metrics
	loc        *time.Location
	batchLimit int
	flushLimit int
	now        func() time.Time
}

// PipelineOptions carries the optional tiers and tunables.
type PipelineOptions struct {
	Queue      *Queue
	Store      RollupStore
	BatchLimit int
	FlushLimit int
	Location   *time.Location
}

// NewPipeline builds the event pipeline. Queue and store may each be nil;
// the ring buffer always exists as the last resort.
func NewPipeline(opts PipelineOptions, logger *observability.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.BatchLimit <= 0 || opts.BatchLimit > maxBatchSize {
		opts.BatchLimit = maxBatchSize
	}
	if opts.FlushLimit <= 0 || opts.FlushLimit > DefaultFlushLimit {
		opts.FlushLimit = DefaultFlushLimit
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Pipeline{
		queue:      opts.Queue,
		store:      opts.Store,
		ring:       NewRing(),
		logger:     logger,
		metrics:    metrics,
		loc:        opts.Location,
		batchLimit: opts.BatchLimit,
		flushLimit: opts.FlushLimit,
		now:        time.Now,
	}
}

// Ingest validates and buffers one batch. Unknown names and malformed rows
// are dropped silently; the returned count covers accepted rows only.
func (p *Pipeline) Ingest(ctx context.Context, incoming []IncomingEvent, reqCtx RequestContext) (*IngestResult, error) {
	if len(incoming) > p.batchLimit {
		p.dropped("batch_overflow", len(incoming)-p.batchLimit)
		incoming = incoming[:p.batchLimit]
	}

	records := make([]EventRecord, 0, len(incoming))
	for _, in := range incoming {
		rec, ok := p.normalize(in, reqCtx)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return &IngestResult{}, nil
	}

	path, err := p.write(ctx, records)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.EventsIngestedTotal.WithLabelValues(path).Add(float64(len(records)))
	}
	return &IngestResult{Ingested: len(records)}, nil
}

// normalize validates one row and merges the server context into its
// payload under the reserved key.
func (p *Pipeline) normalize(in IncomingEvent, reqCtx RequestContext) (EventRecord, bool) {
	if !knownEventNames[in.EventName] {
		p.dropped("unknown_name", 1)
		return EventRecord{}, false
	}
	if in.Timestamp == "" {
		p.dropped("missing_timestamp", 1)
		return EventRecord{}, false
	}
	occurredAt, err := time.Parse(time.RFC3339, in.Timestamp)
	if err != nil {
		p.dropped("malformed_timestamp", 1)
		return EventRecord{}, false
	}

	payload := make(map[string]interface{}, len(in.Payload)+1)
	for k, v := range in.Payload {
		if k == ServerContextKey {
			continue
		}
		payload[k] = v
	}
	payload[ServerContextKey] = reqCtx

	return EventRecord{
		EventName:  in.EventName,
		Slug:       in.Slug,
		OccurredAt: occurredAt.UTC(),
		SessionID:  in.SessionID,
		Payload:    payload,
	}, true
}

// write buffers records by priority: queue, direct relational fold, ring.
func (p *Pipeline) write(ctx context.Context, records []EventRecord) (string, error) {
	if p.queue != nil {
		if err := p.queue.Push(ctx, records); err == nil {
			return "queue", nil
		} else if p.logger != nil {
			p.logger.WithError(err).Warn("event queue unavailable, trying direct persist")
		}
	}
	if p.store != nil {
		if err := p.persist(ctx, records, p.store.AddSessions); err == nil {
			return "sql", nil
		} else if p.logger != nil {
			p.logger.WithError(err).Warn("direct event persist failed, buffering in memory")
		}
	}
	p.ring.Append(records)
	return "ring", nil
}

// Flush drains up to max queued records (default and hard cap 500) into the
// rollups. A batch that fails after dequeue is dropped, not re-enqueued.
func (p *Pipeline) Flush(ctx context.Context, max int) (*FlushResult, error) {
	if p.queue == nil {
		return &FlushResult{}, nil
	}
	if max <= 0 || max > p.flushLimit {
		max = p.flushLimit
	}

	start := p.now()
	records, err := p.queue.Pop(ctx, max)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &FlushResult{}, nil
	}

	if err := p.persist(ctx, records, p.queue.SessionDelta); err != nil {
		return nil, fmt.Errorf("flush dropped %d dequeued events: %w", len(records), err)
	}

	if p.metrics != nil {
		p.metrics.FlushBatchSize.Observe(float64(len(records)))
		p.metrics.FlushDuration.Observe(p.now().Sub(start).Seconds())
	}
	return &FlushResult{Flushed: len(records)}, nil
}

// sessionDeltaFunc resolves how many sessions in a window are new.
type sessionDeltaFunc func(ctx context.Context, bucket time.Time, eventName, slug string, sessions []string) (int64, error)

// persist writes raw rows and folds per-window aggregates into the rollup
// store, incrementing unique counts by the session-set delta only.
func (p *Pipeline) persist(ctx context.Context, records []EventRecord, sessionDelta sessionDeltaFunc) error {
	if p.store == nil {
		// Queue configured but no relational store: keep flushed records
		// summarizable locally.
		p.ring.Append(records)
		return nil
	}

	if err := p.store.InsertRawEvents(ctx, records); err != nil {
		return err
	}

	for key, g := range groupRecords(records) {
		sessions := make([]string, 0, len(g.sessions))
		for session := range g.sessions {
			sessions = append(sessions, session)
		}
		delta, err := sessionDelta(ctx, key.bucket, key.event, key.slug, sessions)
		if err != nil {
			return err
		}
		if err := p.store.UpsertRollup(ctx, Rollup{
			BucketStart:    key.bucket,
			EventName:      key.event,
			Slug:           key.slug,
			VisitCount:     g.visitCount,
			UniqueSessions: delta,
			LastSeenAt:     g.lastSeen,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) dropped(reason string, n int) {
	if p.metrics != nil && n > 0 {
		p.metrics.EventsDroppedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/pulse/pkg/observability"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewQueue(client)
}

func TestQueue_PushPopFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	occurred := time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC)
	require.NoError(t, q.Push(ctx, []EventRecord{
		{EventName: "page_visit", Slug: "first", OccurredAt: occurred},
		{EventName: "page_visit", Slug: "second", OccurredAt: occurred},
	}))

	depth, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	records, err := q.Pop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "first", records[0].Slug)
	assert.True(t, records[0].OccurredAt.Equal(occurred))

	records, err = q.Pop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second", records[0].Slug)
}

func TestQueue_PopEmpty(t *testing.T) {
	q := newTestQueue(t)

	records, err := q.Pop(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQueue_SessionDelta(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	bucket := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	delta, err := q.SessionDelta(ctx, bucket, "page_visit", "hello", []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), delta)

	// Overlapping union only counts the new member.
	delta, err = q.SessionDelta(ctx, bucket, "page_visit", "hello", []string{"s2", "s3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), delta)

	// A different window starts fresh.
	delta, err = q.SessionDelta(ctx, bucket.Add(BucketWindow), "page_visit", "hello", []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), delta)
}

// capturingStore records calls so flush behavior is observable.
type capturingStore struct {
	raw      []EventRecord
	rollups  []Rollup
	sessions map[string][]string
}

func newCapturingStore() *capturingStore {
	return &capturingStore{sessions: make(map[string][]string)}
}

func (s *capturingStore) InsertRawEvents(ctx context.Context, records []EventRecord) error {
	s.raw = append(s.raw, records...)
	return nil
}

func (s *capturingStore) AddSessions(ctx context.Context, bucket time.Time, eventName, slug string, sessions []string) (int64, error) {
	key := bucket.Format(time.RFC3339) + "|" + eventName + "|" + slug
	var delta int64
	for _, session := range sessions {
		seen := false
		for _, existing := range s.sessions[key] {
			if existing == session {
				seen = true
				break
			}
		}
		if !seen {
			s.sessions[key] = append(s.sessions[key], session)
			delta++
		}
	}
	return delta, nil
}

func (s *capturingStore) UpsertRollup(ctx context.Context, r Rollup) error {
	s.rollups = append(s.rollups, r)
	return nil
}

func (s *capturingStore) QueryRollups(ctx context.Context, q SummaryQuery) ([]Rollup, error) {
	return s.rollups, nil
}

func (s *capturingStore) DistinctSlugs(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *capturingStore) PruneSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func TestFlush_FoldsQueuedEventsIntoRollups(t *testing.T) {
	queue := newTestQueue(t)
	store := newCapturingStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	p := NewPipeline(PipelineOptions{Queue: queue, Store: store}, logger, metrics)
	ctx := context.Background()

	_, err := p.Ingest(ctx, []IncomingEvent{
		{EventName: "page_visit", Slug: "hello", Timestamp: "2026-03-10T12:01:00Z", SessionID: "s1"},
		{EventName: "page_visit", Slug: "hello", Timestamp: "2026-03-10T12:04:00Z", SessionID: "s1"},
		{EventName: "page_visit", Slug: "hello", Timestamp: "2026-03-10T12:08:00Z", SessionID: "s2"},
	}, testContext())
	require.NoError(t, err)

	// Nothing persisted yet; the batch sits on the queue.
	assert.Empty(t, store.raw)

	result, err := p.Flush(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Flushed)

	assert.Len(t, store.raw, 3)
	require.Len(t, store.rollups, 1)
	rollup := store.rollups[0]
	assert.Equal(t, int64(3), rollup.VisitCount)
	assert.Equal(t, int64(2), rollup.UniqueSessions)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), rollup.BucketStart)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 8, 0, 0, time.UTC), rollup.LastSeenAt)

	// Queue is drained.
	depth, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestFlush_SessionDeltaAcrossFlushes(t *testing.T) {
	queue := newTestQueue(t)
	store := newCapturingStore()
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	p := NewPipeline(PipelineOptions{Queue: queue, Store: store}, logger, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, []IncomingEvent{
		{EventName: "page_visit", Slug: "hello", Timestamp: "2026-03-10T12:01:00Z", SessionID: "s1"},
	}, testContext())
	require.NoError(t, err)
	_, err = p.Flush(ctx, 0)
	require.NoError(t, err)

	// Same session again in the same window: the union adds nothing.
	_, err = p.Ingest(ctx, []IncomingEvent{
		{EventName: "page_visit", Slug: "hello", Timestamp: "2026-03-10T12:05:00Z", SessionID: "s1"},
	}, testContext())
	require.NoError(t, err)
	_, err = p.Flush(ctx, 0)
	require.NoError(t, err)

	require.Len(t, store.rollups, 2)
	assert.Equal(t, int64(1), store.rollups[0].UniqueSessions)
	assert.Equal(t, int64(0), store.rollups[1].UniqueSessions)
}

func TestIngest_DirectSQLPathWhenNoQueue(t *testing.T) {
	store := newCapturingStore()
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	p := NewPipeline(PipelineOptions{Store: store}, logger, nil)

	result, err := p.Ingest(context.Background(), []IncomingEvent{
		{EventName: "page_visit", Slug: "hello", Timestamp: "2026-03-10T12:01:00Z", SessionID: "s1"},
		{EventName: "page_visit", Slug: "hello", Timestamp: "2026-03-10T12:02:00Z", SessionID: "s1"},
	}, testContext())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Ingested)

	// Persisted and folded immediately, nothing buffered locally.
	assert.Len(t, store.raw, 2)
	require.Len(t, store.rollups, 1)
	assert.Equal(t, int64(2), store.rollups[0].VisitCount)
	assert.Equal(t, int64(1), store.rollups[0].UniqueSessions)
	assert.Equal(t, 0, p.ring.Len())
}

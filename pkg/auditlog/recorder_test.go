package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/pulse/pkg/observability"
)

func newMemoryRecorder(t *testing.T, tiers ...Backend) *Recorder {
	t.Helper()
	if len(tiers) == 0 {
		tiers = []Backend{NewMemoryBackend()}
	}
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	return NewRecorder(tiers, logger, nil)
}

func TestRecord_FillsIDAndTimestamp(t *testing.T) {
	r := newMemoryRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, []Entry{{Slug: "hello", ChangedBy: "admin"}}))

	entries, err := r.List(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotEmpty(t, entries[0].ChangedAt)
}

func TestRecord_NewestFirst(t *testing.T) {
	r := newMemoryRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, []Entry{{Slug: "first"}}))
	require.NoError(t, r.Record(ctx, []Entry{{Slug: "second"}}))

	entries, err := r.List(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Slug)
	assert.Equal(t, "first", entries[1].Slug)
}

func TestRecord_CapsAtMaxEntries(t *testing.T) {
	r := newMemoryRecorder(t)
	ctx := context.Background()

	for i := 0; i < MaxEntries+20; i++ {
		require.NoError(t, r.Record(ctx, []Entry{{Slug: fmt.Sprintf("slug-%d", i)}}))
	}

	entries, err := r.List(ctx, ListQuery{Limit: MaxEntries})
	require.NoError(t, err)
	assert.Len(t, entries, MaxEntries)
	assert.Equal(t, fmt.Sprintf("slug-%d", MaxEntries+19), entries[0].Slug)
}

func TestList_SlugFilterAndLimit(t *testing.T) {
	r := newMemoryRecorder(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Record(ctx, []Entry{{Slug: "alpha"}}))
		require.NoError(t, r.Record(ctx, []Entry{{Slug: "beta"}}))
	}

	entries, err := r.List(ctx, ListQuery{Slugs: []string{"alpha"}})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for _, e := range entries {
		assert.Equal(t, "alpha", e.Slug)
	}

	entries, err = r.List(ctx, ListQuery{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// The cap holds even for oversized limits.
	entries, err = r.List(ctx, ListQuery{Limit: 10000})
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestRecordChange_MarshalsStates(t *testing.T) {
	r := newMemoryRecorder(t)
	ctx := context.Background()

	type state struct {
		Views int64 `json:"views"`
		Likes int64 `json:"likes"`
	}
	require.NoError(t, r.RecordChange(ctx, "hello", "admin", state{Views: 1, Likes: 0}, state{Views: 10, Likes: 3}))

	entries, err := r.List(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var after state
	require.NoError(t, json.Unmarshal(entries[0].After, &after))
	assert.Equal(t, int64(10), after.Views)
	assert.Equal(t, int64(3), after.Likes)
}

type failingBackend struct{}

func (failingBackend) Name() string                                 { return "failing" }
func (failingBackend) Prepend(context.Context, []Entry) error       { return errors.New("tier down") }
func (failingBackend) Entries(context.Context) ([]Entry, error)     { return nil, errors.New("tier down") }

func TestCascade_FallsThroughFailingTier(t *testing.T) {
	r := newMemoryRecorder(t, failingBackend{}, NewMemoryBackend())
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, []Entry{{Slug: "hello"}}))

	entries, err := r.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRedisBackend_PrependAndTrim(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	b := NewRedisBackend(client)
	ctx := context.Background()

	require.NoError(t, b.Prepend(ctx, []Entry{{ID: "1", Slug: "first"}}))
	require.NoError(t, b.Prepend(ctx, []Entry{{ID: "2", Slug: "second"}, {ID: "3", Slug: "third"}}))

	entries, err := b.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "second", entries[0].Slug)
	assert.Equal(t, "third", entries[1].Slug)
	assert.Equal(t, "first", entries[2].Slug)
}

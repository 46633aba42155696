package counters

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/pulse/pkg/observability"
)

func newTestStore(t *testing.T, tiers ...Backend) *Store {
	t.Helper()
	if len(tiers) == 0 {
		tiers = []Backend{NewMemoryBackend()}
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	return NewStore(tiers, logger, metrics, time.UTC)
}

func TestBumpView_DedupsPerViewer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.BumpView(ctx, "hello-world", "viewer-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Views)
	assert.False(t, first.Deduped)

	second, err := store.BumpView(ctx, "hello-world", "viewer-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Views)
	assert.True(t, second.Deduped)

	other, err := store.BumpView(ctx, "hello-world", "viewer-b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), other.Views)
	assert.False(t, other.Deduped)
}

func TestBumpView_AnonymousAlwaysCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := store.BumpView(ctx, "hello-world", "")
		require.NoError(t, err)
		assert.False(t, result.Deduped)
	}

	result, err := store.GetMetrics(ctx, "hello-world", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Views)
}

func likeState(v bool) *bool { return &v }

func TestSetLikeState_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	liked, err := store.SetLikeState(ctx, "post", "viewer-a", likeState(true))
	require.NoError(t, err)
	assert.Equal(t, int64(1), liked.Likes)
	assert.True(t, liked.Liked)

	again, err := store.SetLikeState(ctx, "post", "viewer-a", likeState(true))
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Likes)

	unliked, err := store.SetLikeState(ctx, "post", "viewer-a", likeState(false))
	require.NoError(t, err)
	assert.Equal(t, int64(0), unliked.Likes)
	assert.False(t, unliked.Liked)

	// Unliking without an active like never goes negative.
	floor, err := store.SetLikeState(ctx, "post", "viewer-b", likeState(false))
	require.NoError(t, err)
	assert.Equal(t, int64(0), floor.Likes)
}

func TestSetLikeState_NilDesiredFlipsState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	on, err := store.SetLikeState(ctx, "post", "viewer-a", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), on.Likes)
	assert.True(t, on.Liked)

	off, err := store.SetLikeState(ctx, "post", "viewer-a", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), off.Likes)
	assert.False(t, off.Liked)
}

func TestSetLikeState_AnonymousMovesCounterEachCall(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 2; want++ {
		result, err := store.SetLikeState(ctx, "post", "", likeState(true))
		require.NoError(t, err)
		assert.Equal(t, want, result.Likes)
		assert.True(t, result.Liked)
	}

	down, err := store.SetLikeState(ctx, "post", "", likeState(false))
	require.NoError(t, err)
	assert.Equal(t, int64(1), down.Likes)

	_, err = store.SetLikeState(ctx, "post", "", likeState(false))
	require.NoError(t, err)
	floor, err := store.SetLikeState(ctx, "post", "", likeState(false))
	require.NoError(t, err)
	assert.Equal(t, int64(0), floor.Likes)
}

func TestGetMetrics_LikedAnnotationAndRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	_, err := store.BumpView(ctx, "post", "viewer-a")
	require.NoError(t, err)
	_, err = store.SetLikeState(ctx, "post", "viewer-a", likeState(true))
	require.NoError(t, err)

	result, err := store.GetMetrics(ctx, "post", GetOptions{ViewerID: "viewer-a"})
	require.NoError(t, err)
	require.NotNil(t, result.Liked)
	assert.True(t, *result.Liked)

	anon, err := store.GetMetrics(ctx, "post", GetOptions{})
	require.NoError(t, err)
	assert.Nil(t, anon.Liked)

	ranged, err := store.GetMetrics(ctx, "post", GetOptions{
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NotNil(t, ranged.RangeTotals)
	assert.Equal(t, int64(1), ranged.RangeTotals.Views)
	assert.Equal(t, int64(1), ranged.RangeTotals.Likes)

	outside, err := store.GetMetrics(ctx, "post", GetOptions{
		StartDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NotNil(t, outside.RangeTotals)
	assert.Equal(t, int64(0), outside.RangeTotals.Views)
}

func TestOverwriteMetrics_ClearsMembership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.BumpView(ctx, "post", "viewer-a")
	require.NoError(t, err)
	_, err = store.SetLikeState(ctx, "post", "viewer-a", likeState(true))
	require.NoError(t, err)

	views, likes := int64(100), int64(5)
	snap, err := store.OverwriteMetrics(ctx, "post", OverwriteInput{Views: &views, Likes: &likes})
	require.NoError(t, err)
	assert.Equal(t, int64(100), snap.Views)
	assert.Equal(t, int64(5), snap.Likes)

	// Membership was reset: the old viewer counts and can like again.
	bumped, err := store.BumpView(ctx, "post", "viewer-a")
	require.NoError(t, err)
	assert.False(t, bumped.Deduped)
	assert.Equal(t, int64(101), bumped.Views)

	result, err := store.GetMetrics(ctx, "post", GetOptions{ViewerID: "viewer-a"})
	require.NoError(t, err)
	require.NotNil(t, result.Liked)
	assert.False(t, *result.Liked)
}

func TestOverwriteMetrics_NilFieldsKeepValues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.BumpView(ctx, "post", "viewer-a")
	require.NoError(t, err)

	likes := int64(7)
	snap, err := store.OverwriteMetrics(ctx, "post", OverwriteInput{Likes: &likes})
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Views)
	assert.Equal(t, int64(7), snap.Likes)
}

func TestOverwriteMetrics_RejectsInvalidPayload(t *testing.T) {
	store := newTestStore(t)

	bad := int64(-1)
	_, err := store.OverwriteMetrics(context.Background(), "post", OverwriteInput{Views: &bad})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "views")

	_, err = store.OverwriteMetrics(context.Background(), "post", OverwriteInput{
		History: []DailyStat{{Date: "not-a-date", Views: 1}},
	})
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "history")
}

// failingBackend errors on every call.
type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }
func (failingBackend) Load(context.Context, string) (*Snapshot, error) {
	return nil, errors.New("tier down")
}
func (failingBackend) IncrView(context.Context, string, string) (*Snapshot, error) {
	return nil, errors.New("tier down")
}
func (failingBackend) AdjustLikes(context.Context, string, string, int64) (*Snapshot, error) {
	return nil, errors.New("tier down")
}
func (failingBackend) Overwrite(context.Context, string, *Snapshot) error {
	return errors.New("tier down")
}
func (failingBackend) MarkViewed(context.Context, string, string) (bool, error) {
	return false, errors.New("tier down")
}
func (failingBackend) HasLiked(context.Context, string, string) (bool, error) {
	return false, errors.New("tier down")
}
func (failingBackend) SetLiked(context.Context, string, string, bool) error {
	return errors.New("tier down")
}
func (failingBackend) ClearMembership(context.Context, string) error {
	return errors.New("tier down")
}

func TestCascade_FallsThroughFailingTier(t *testing.T) {
	store := newTestStore(t, failingBackend{}, NewMemoryBackend())
	ctx := context.Background()

	result, err := store.BumpView(ctx, "post", "viewer-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Views)

	read, err := store.GetMetrics(ctx, "post", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), read.Views)
}

func TestCascade_WarnLogsCarryRequestContext(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.WarnLevel, &buf)
	store := NewStore([]Backend{failingBackend{}, NewMemoryBackend()}, logger, nil, time.UTC)

	ctx := observability.WithRequestID(context.Background(), "req-42")
	ctx = observability.WithViewerID(ctx, "viewer-a")
	_, err := store.BumpView(ctx, "post", "viewer-a")
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Contains(t, buf.String(), `"viewer_id":"viewer-a"`)
}

func TestCascade_AllTiersFailing(t *testing.T) {
	store := newTestStore(t, failingBackend{})
	_, err := store.GetMetrics(context.Background(), "post", GetOptions{})
	require.Error(t, err)
}

func TestMemberSets_ViewDedupExpires(t *testing.T) {
	members := newMemberSets()
	now := time.Unix(1000, 0)
	members.now = func() time.Time { return now }

	assert.True(t, members.markViewed("post", "viewer-a"))
	assert.False(t, members.markViewed("post", "viewer-a"))

	now = now.Add(viewDedupTTL + time.Second)
	assert.True(t, members.markViewed("post", "viewer-a"))
}

package heatmap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestBackend(t *testing.T) Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisBackend(client)
}

func TestRedisBackend_IncrAndLoad(t *testing.T) {
	b := newRedisTestBackend(t)
	ctx := context.Background()

	key := FieldKey{Bucket: "desktop", Section: "hero", Type: "click", Cell: 3}
	require.NoError(t, b.IncrFields(ctx, "post", map[FieldKey]int64{key: 2}))
	require.NoError(t, b.IncrFields(ctx, "post", map[FieldKey]int64{key: 3}))

	fields, err := b.LoadFields(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, int64(5), fields[key])
}

func TestRedisBackend_LoadSkipsMalformedFields(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	b := NewRedisBackend(client)
	ctx := context.Background()

	require.NoError(t, client.HSet(ctx, "heatmap:post", "not-a-composite", "7").Err())
	key := FieldKey{Bucket: "desktop", Section: "hero", Type: "click", Cell: 0}
	require.NoError(t, b.IncrFields(ctx, "post", map[FieldKey]int64{key: 1}))

	fields, err := b.LoadFields(ctx, "post")
	require.NoError(t, err)
	assert.Len(t, fields, 1)
	assert.Equal(t, int64(1), fields[key])
}

func TestRedisBackend_ListSlugs(t *testing.T) {
	b := newRedisTestBackend(t)
	ctx := context.Background()

	key := FieldKey{Bucket: "desktop", Section: "hero", Type: "click", Cell: 0}
	require.NoError(t, b.IncrFields(ctx, "beta", map[FieldKey]int64{key: 1}))
	require.NoError(t, b.IncrFields(ctx, "alpha", map[FieldKey]int64{key: 1}))

	slugs, err := b.ListSlugs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, slugs)
}

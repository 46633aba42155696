package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_CachesFreshValues(t *testing.T) {
	r, err := NewResolver(16, nil)
	require.NoError(t, err)

	var calls int32
	factory := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	for i := 0; i < 5; i++ {
		v, err := r.Resolve(context.Background(), "metrics", "hello", time.Minute, factory)
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolve_ExpiredValueRecomputed(t *testing.T) {
	r, err := NewResolver(16, nil)
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	var calls int32
	factory := func(ctx context.Context) (interface{}, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	v, _ := r.Resolve(context.Background(), "s", "k", time.Second, factory)
	assert.Equal(t, int32(1), v)

	now = now.Add(2 * time.Second)
	v, _ = r.Resolve(context.Background(), "s", "k", time.Second, factory)
	assert.Equal(t, int32(2), v)
}

func TestResolve_SingleFlight(t *testing.T) {
	r, err := NewResolver(16, nil)
	require.NoError(t, err)

	var calls int32
	release := make(chan struct{})
	factory := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	}

	const concurrent = 8
	var wg sync.WaitGroup
	results := make([]interface{}, concurrent)
	errs := make([]error, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), "s", "k", time.Minute, factory)
		}(i)
	}

	// Let all goroutines pile onto the in-flight computation.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i, v := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", v)
	}
}

func TestResolve_FailuresNotCached(t *testing.T) {
	r, err := NewResolver(16, nil)
	require.NoError(t, err)

	var calls int32
	factory := func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, fmt.Errorf("upstream down")
		}
		return "recovered", nil
	}

	_, err = r.Resolve(context.Background(), "s", "k", time.Minute, factory)
	require.Error(t, err)

	v, err := r.Resolve(context.Background(), "s", "k", time.Minute, factory)
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestInvalidate(t *testing.T) {
	r, err := NewResolver(16, nil)
	require.NoError(t, err)

	var calls int32
	factory := func(ctx context.Context) (interface{}, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	v, _ := r.Resolve(context.Background(), "s", "k", time.Minute, factory)
	assert.Equal(t, int32(1), v)

	r.Invalidate("s", "k")
	v, _ = r.Resolve(context.Background(), "s", "k", time.Minute, factory)
	assert.Equal(t, int32(2), v)
}

package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/calyptra/pulse/pkg/observability"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Resolver memoizes factory results per (store, key) with single-flight
// collapsing. Failures are never cached.
type Resolver struct {
	group   singleflight.Group
	entries *lru.Cache[string, entry]
	metrics *observability.Metrics
	now     func() time.Time
}

// NewResolver creates a resolver bounded to maxEntries cached values.
// Metrics may be nil.
func NewResolver(maxEntries int, metrics *observability.Metrics) (*Resolver, error) {
	entries, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		entries: entries,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Resolve returns the cached value for (store, key) if still fresh,
// otherwise computes it via factory. Concurrent callers for the same key
// share one factory invocation; whoever joins an in-flight computation gets
// its result without caching it twice.
func (r *Resolver) Resolve(ctx context.Context, store, key string, ttl time.Duration, factory func(context.Context) (interface{}, error)) (interface{}, error) {
	cacheKey := store + ":" + key

	if e, ok := r.entries.Get(cacheKey); ok && e.expiresAt.After(r.now()) {
		if r.metrics != nil {
			r.metrics.ResolveCacheHitsTotal.Inc()
		}
		return e.value, nil
	}

	value, err, shared := r.group.Do(cacheKey, func() (interface{}, error) {
		// Re-check: a previous flight may have cached while we waited for
		// the group lock.
		if e, ok := r.entries.Get(cacheKey); ok && e.expiresAt.After(r.now()) {
			return e.value, nil
		}

		if r.metrics != nil {
			r.metrics.ResolveCacheMissesTotal.Inc()
		}
		value, err := factory(ctx)
		if err != nil {
			return nil, err
		}

		r.entries.Add(cacheKey, entry{value: value, expiresAt: r.now().Add(ttl)})
		return value, nil
	})
	if shared && r.metrics != nil {
		r.metrics.ResolveCacheSharedTotal.Inc()
	}
	return value, err
}

// Invalidate drops the cached value for (store, key). Writers call this so
// the next read observes their change inside the TTL.
func (r *Resolver) Invalidate(store, key string) {
	r.entries.Remove(store + ":" + key)
}

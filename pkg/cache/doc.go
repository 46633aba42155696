// Package cache provides a single-flight memoizing resolver: concurrent
// identical lookups share one upstream computation, and successful results
// are cached with a per-call TTL in a bounded LRU.
package cache

package logger

import (
	"context"
	"sync/atomic"
)

type contextKey string

const (
	cacheHitKey   contextKey = "cache_hit_counter"
	cacheMissKey  contextKey = "cache_miss_counter"
	storeReadKey  contextKey = "store_read_counter"
	invalidateKey contextKey = "invalidation_counter"
)

// WithCoherenceCounters returns a context carrying per-request counters for cache hits,
// cache misses, store reads and executed invalidations. Increments on a context without
// counters are no-ops.
func WithCoherenceCounters(ctx context.Context) context.Context {
	for _, k := range []contextKey{cacheHitKey, cacheMissKey, storeReadKey, invalidateKey} {
		ctx = context.WithValue(ctx, k, new(int64))
	}
	return ctx
}

func add(ctx context.Context, key contextKey, n int64) {
	if c, ok := ctx.Value(key).(*int64); ok && c != nil {
		atomic.AddInt64(c, n)
	}
}

func load(ctx context.Context, key contextKey) int64 {
	if c, ok := ctx.Value(key).(*int64); ok && c != nil {
		return atomic.LoadInt64(c)
	}
	return 0
}

// AddCacheHits adds n to the request's cache hit counter.
func AddCacheHits(ctx context.Context, n int) { add(ctx, cacheHitKey, int64(n)) }

// AddCacheMisses adds n to the request's cache miss counter.
func AddCacheMisses(ctx context.Context, n int) { add(ctx, cacheMissKey, int64(n)) }

// IncrementStoreReads counts one store round trip made on a read path.
func IncrementStoreReads(ctx context.Context) { add(ctx, storeReadKey, 1) }

// IncrementInvalidations counts one executed invalidation batch.
func IncrementInvalidations(ctx context.Context) { add(ctx, invalidateKey, 1) }

func GetCacheHits(ctx context.Context) int64     { return load(ctx, cacheHitKey) }
func GetCacheMisses(ctx context.Context) int64   { return load(ctx, cacheMissKey) }
func GetStoreReads(ctx context.Context) int64    { return load(ctx, storeReadKey) }
func GetInvalidations(ctx context.Context) int64 { return load(ctx, invalidateKey) }

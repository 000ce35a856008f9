package cache

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gaborage/go-coherence/cache/internal/tracking"
	"github.com/gaborage/go-coherence/logger"
)

// Loader produces the value for a single cache miss. found=false means the value does
// not exist; nothing is cached in that case.
type Loader[T any] func(ctx context.Context) (value T, found bool, err error)

// BatchLoader produces values for a set of missed keys. Keys that do not exist are left
// out of the returned map.
type BatchLoader[T any] func(ctx context.Context, keys []string) (map[string]T, error)

// Reader implements read-through access on top of a Cache. Concurrent misses on the same
// key share one loader call. A Reader is safe for concurrent use.
type Reader struct {
	cache Cache
	group singleflight.Group
}

// NewReader creates a Reader over c.
func NewReader(c Cache) *Reader {
	return &Reader{cache: c}
}

// Cache returns the underlying cache.
func (r *Reader) Cache() Cache {
	return r.cache
}

type loaded[T any] struct {
	value T
	found bool
}

// Warp returns the cached value of key in namespace, calling load on a miss and storing
// its result with ttl (0 means no expiry). force skips the lookup and refreshes the
// entry. Cache errors are returned as is; they never fall back to the loader.
//
// Concurrent misses on one key run a single load, using the load function and ttl of
// the caller that started it. That load runs detached from the caller's cancellation so
// one cancelled request cannot fail the others waiting on it.
func Warp[T any](ctx context.Context, r *Reader, namespace, key string, load Loader[T], ttl time.Duration, force bool) (T, bool, error) {
	var zero T
	if ttl < 0 {
		return zero, false, ErrInvalidTTL
	}

	if !force {
		raw, err := r.cache.Get(ctx, namespace, key)
		switch {
		case err == nil:
			v, decErr := Unmarshal[T](raw)
			if decErr != nil {
				return zero, false, NewOperationError("decode", namespace, key, decErr)
			}
			r.record(ctx, namespace, 1, 0)
			return v, true, nil
		case !errors.Is(err, ErrNotFound):
			return zero, false, err
		}
		r.record(ctx, namespace, 0, 1)
	}

	fill := func(ctx context.Context) func() (any, error) {
		return func() (any, error) {
			v, found, err := load(ctx)
			if err != nil || !found {
				return loaded[T]{value: v, found: found}, err
			}
			raw, err := Marshal(v)
			if err != nil {
				return nil, NewOperationError("encode", namespace, key, err)
			}
			if err := r.cache.Set(ctx, namespace, key, raw, ttl); err != nil {
				return nil, err
			}
			return loaded[T]{value: v, found: true}, nil
		}
	}

	var (
		res any
		err error
	)
	if force {
		res, err = fill(ctx)()
	} else {
		res, err, _ = r.group.Do(namespace+"\x00"+key, fill(context.WithoutCancel(ctx)))
	}
	if err != nil {
		return zero, false, err
	}

	l, ok := res.(loaded[T])
	if !ok {
		// Another caller loaded the same key as a different type.
		if res, err = fill(ctx)(); err != nil {
			return zero, false, err
		}
		l = res.(loaded[T])
	}
	return l.value, l.found, nil
}

// MWarp is the batched Warp. It performs one lookup for all keys, calls load at most
// once with exactly the missed keys, and back-fills what load returned in one write.
// Duplicate keys are collapsed. Keys that exist neither in the cache nor in the loader
// result are absent from the returned map.
func MWarp[T any](ctx context.Context, r *Reader, namespace string, keys []string, load BatchLoader[T], ttl time.Duration, force bool) (map[string]T, error) {
	if ttl < 0 {
		return nil, ErrInvalidTTL
	}

	keys = unique(keys)
	result := make(map[string]T, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	missing := keys
	if !force {
		raw, err := r.cache.MGet(ctx, namespace, keys)
		if err != nil {
			return nil, err
		}

		missing = make([]string, 0, len(keys))
		for _, k := range keys {
			data, ok := raw[k]
			if !ok {
				missing = append(missing, k)
				continue
			}
			v, err := Unmarshal[T](data)
			if err != nil {
				return nil, NewOperationError("decode", namespace, k, err)
			}
			result[k] = v
		}
		r.record(ctx, namespace, len(keys)-len(missing), len(missing))
	}

	if len(missing) == 0 {
		return result, nil
	}

	values, err := load(ctx, missing)
	if err != nil {
		return nil, err
	}

	fill := make(map[string][]byte, len(values))
	for _, k := range missing {
		v, ok := values[k]
		if !ok {
			continue
		}
		data, err := Marshal(v)
		if err != nil {
			return nil, NewOperationError("encode", namespace, k, err)
		}
		fill[k] = data
		result[k] = v
	}

	if len(fill) > 0 {
		if err := r.cache.MSet(ctx, namespace, fill, ttl); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// MDelete merges groups, drops empty ones and deletes the rest in one call. It does
// nothing when no group is left.
func (r *Reader) MDelete(ctx context.Context, groups []KeyGroup) error {
	groups = MergeGroups(groups)
	if len(groups) == 0 {
		return nil
	}

	err := r.cache.MDelete(ctx, groups)
	tracking.RecordInvalidation(ctx, len(groups), err)
	if err == nil {
		logger.IncrementInvalidations(ctx)
	}
	return err
}

func (r *Reader) record(ctx context.Context, namespace string, hits, misses int) {
	tracking.RecordLookup(ctx, namespace, hits, misses)
	logger.AddCacheHits(ctx, hits)
	logger.AddCacheMisses(ctx, misses)
}

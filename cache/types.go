// Package cache holds the cache side of the coherence layer: the namespaced Cache
// contract implemented by external key-value services, deterministic key construction,
// query fingerprints and the cache-aside Reader.
package cache

import (
	"context"
	"time"
)

// Cache is a namespaced key-value service. A namespace groups the entries of one cache
// dimension so that it can be dropped as a whole; keys are unique within a namespace.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns ErrNotFound when the key is absent or expired.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// MGet fetches many keys of one namespace in a single round trip.
	// Absent keys are missing from the returned map.
	MGet(ctx context.Context, namespace string, keys []string) (map[string][]byte, error)

	// Set stores value under key. A zero ttl stores without expiry.
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error

	// MSet stores every entry of values with the same ttl in a single round trip.
	MSet(ctx context.Context, namespace string, values map[string][]byte, ttl time.Duration) error

	// MDelete removes all groups atomically. Groups with All set drop the whole namespace.
	MDelete(ctx context.Context, groups []KeyGroup) error

	Health(ctx context.Context) error
	Close() error
}

package testing

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/gaborage/go-coherence/cache"
)

// AssertCacheHit fails the test unless key is present in namespace.
func AssertCacheHit(t *testing.T, c cache.Cache, namespace, key string) {
	t.Helper()

	if _, err := c.Get(context.Background(), namespace, key); err != nil {
		t.Errorf("expected cache hit for %q in %q, got error: %v", key, namespace, err)
	}
}

// AssertCacheMiss fails the test unless key is absent from namespace.
func AssertCacheMiss(t *testing.T, c cache.Cache, namespace, key string) {
	t.Helper()

	if _, err := c.Get(context.Background(), namespace, key); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected cache miss for %q in %q, got: %v", key, namespace, err)
	}
}

// AssertOperationCount fails the test unless operation was called expected times.
func AssertOperationCount(t *testing.T, mock *MockCache, operation string, expected int64) {
	t.Helper()

	if actual := mock.OperationCount(operation); actual != expected {
		t.Errorf("expected %d %s calls, got %d", expected, operation, actual)
	}
}

// AssertDeleted fails the test unless some MDelete batch removed every member from
// namespace, either explicitly or by dropping the namespace.
func AssertDeleted(t *testing.T, mock *MockCache, namespace string, members ...string) {
	t.Helper()

	for _, member := range members {
		if !deleted(mock, namespace, member) {
			t.Errorf("expected %q to be deleted from %q", member, namespace)
		}
	}
}

// AssertNamespaceDropped fails the test unless some MDelete batch dropped the namespace.
func AssertNamespaceDropped(t *testing.T, mock *MockCache, namespace string) {
	t.Helper()

	for _, batch := range mock.Deleted() {
		for _, g := range batch {
			if g.Namespace == namespace && g.All {
				return
			}
		}
	}
	t.Errorf("expected namespace %q to be dropped", namespace)
}

// AssertNoInvalidation fails the test if any MDelete batch was executed.
func AssertNoInvalidation(t *testing.T, mock *MockCache) {
	t.Helper()

	if batches := mock.Deleted(); len(batches) > 0 {
		t.Errorf("expected no invalidation, got %d batches: %+v", len(batches), batches)
	}
}

func deleted(mock *MockCache, namespace, member string) bool {
	for _, batch := range mock.Deleted() {
		for _, g := range batch {
			if g.Namespace != namespace {
				continue
			}
			if g.All || slices.Contains(g.Members, member) {
				return true
			}
		}
	}
	return false
}

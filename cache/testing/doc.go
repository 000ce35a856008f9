// Package testing provides an in-memory cache.Cache for unit tests of code built on the
// coherence layer, with failure injection, per-operation call counters and a record of
// every invalidation batch.
//
//	mock := testing.NewMockCache()
//	reader := cache.NewReader(mock)
//	// ... exercise code ...
//	AssertOperationCount(t, mock, "MGet", 1)
//	AssertDeleted(t, mock, "shop:user:id", "42")
package testing

package testing

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaborage/go-coherence/cache"
)

// MockCache is an in-memory, namespaced cache.Cache. It is safe for concurrent use.
type MockCache struct {
	mu         sync.Mutex
	namespaces map[string]map[string]entry
	deleted    [][]cache.KeyGroup
	closed     atomic.Bool

	getErr     error
	mgetErr    error
	setErr     error
	msetErr    error
	mdeleteErr error
	healthErr  error

	getCalls     atomic.Int64
	mgetCalls    atomic.Int64
	setCalls     atomic.Int64
	msetCalls    atomic.Int64
	mdeleteCalls atomic.Int64
	healthCalls  atomic.Int64
	closeCalls   atomic.Int64

	now func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

var _ cache.Cache = (*MockCache)(nil)

// NewMockCache creates an empty MockCache.
func NewMockCache() *MockCache {
	return &MockCache{namespaces: make(map[string]map[string]entry), now: time.Now}
}

// WithGetFailure makes Get return err.
func (m *MockCache) WithGetFailure(err error) *MockCache { m.getErr = err; return m }

// WithMGetFailure makes MGet return err.
func (m *MockCache) WithMGetFailure(err error) *MockCache { m.mgetErr = err; return m }

// WithSetFailure makes Set return err.
func (m *MockCache) WithSetFailure(err error) *MockCache { m.setErr = err; return m }

// WithMSetFailure makes MSet return err.
func (m *MockCache) WithMSetFailure(err error) *MockCache { m.msetErr = err; return m }

// WithMDeleteFailure makes MDelete return err. Nothing is deleted while it is set.
func (m *MockCache) WithMDeleteFailure(err error) *MockCache { m.mdeleteErr = err; return m }

// WithHealthFailure makes Health return err.
func (m *MockCache) WithHealthFailure(err error) *MockCache { m.healthErr = err; return m }

// WithClock replaces the time source used for expiry.
func (m *MockCache) WithClock(now func() time.Time) *MockCache { m.now = now; return m }

func (m *MockCache) Get(_ context.Context, namespace, key string) ([]byte, error) {
	m.getCalls.Add(1)
	if m.closed.Load() {
		return nil, cache.ErrClosed
	}
	if m.getErr != nil {
		return nil, m.getErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.namespaces[namespace][key]
	if !ok || e.expired(m.now()) {
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MockCache) MGet(_ context.Context, namespace string, keys []string) (map[string][]byte, error) {
	m.mgetCalls.Add(1)
	if m.closed.Load() {
		return nil, cache.ErrClosed
	}
	if m.mgetErr != nil {
		return nil, m.mgetErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if e, ok := m.namespaces[namespace][k]; ok && !e.expired(now) {
			out[k] = append([]byte(nil), e.value...)
		}
	}
	return out, nil
}

func (m *MockCache) Set(_ context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	m.setCalls.Add(1)
	if err := m.checkWrite(m.setErr, ttl); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(namespace, key, value, ttl)
	return nil
}

func (m *MockCache) MSet(_ context.Context, namespace string, values map[string][]byte, ttl time.Duration) error {
	m.msetCalls.Add(1)
	if err := m.checkWrite(m.msetErr, ttl); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.store(namespace, k, v, ttl)
	}
	return nil
}

func (m *MockCache) MDelete(_ context.Context, groups []cache.KeyGroup) error {
	m.mdeleteCalls.Add(1)
	if m.closed.Load() {
		return cache.ErrClosed
	}
	if m.mdeleteErr != nil {
		return m.mdeleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make([]cache.KeyGroup, 0, len(groups))
	for _, g := range groups {
		batch = append(batch, cache.KeyGroup{Namespace: g.Namespace, All: g.All, Members: append([]string(nil), g.Members...)})
		if g.All {
			delete(m.namespaces, g.Namespace)
			continue
		}
		for _, member := range g.Members {
			delete(m.namespaces[g.Namespace], member)
		}
	}
	m.deleted = append(m.deleted, batch)
	return nil
}

func (m *MockCache) Health(context.Context) error {
	m.healthCalls.Add(1)
	if m.closed.Load() {
		return cache.ErrClosed
	}
	return m.healthErr
}

func (m *MockCache) Close() error {
	m.closeCalls.Add(1)
	m.closed.Store(true)
	return nil
}

func (m *MockCache) checkWrite(injected error, ttl time.Duration) error {
	if m.closed.Load() {
		return cache.ErrClosed
	}
	if injected != nil {
		return injected
	}
	if ttl < 0 {
		return cache.ErrInvalidTTL
	}
	return nil
}

func (m *MockCache) store(namespace, key string, value []byte, ttl time.Duration) {
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]entry)
		m.namespaces[namespace] = ns
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	ns[key] = e
}

// Has reports whether key is live in namespace.
func (m *MockCache) Has(namespace, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.namespaces[namespace][key]
	return ok && !e.expired(m.now())
}

// Keys returns the sorted live keys of namespace.
func (m *MockCache) Keys(namespace string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	keys := make([]string, 0, len(m.namespaces[namespace]))
	for k, e := range m.namespaces[namespace] {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Deleted returns every successful MDelete batch in call order.
func (m *MockCache) Deleted() [][]cache.KeyGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]cache.KeyGroup(nil), m.deleted...)
}

// OperationCount returns how many times operation was called. Operation is one of
// Get, MGet, Set, MSet, MDelete, Health or Close; unknown names count as zero.
func (m *MockCache) OperationCount(operation string) int64 {
	switch operation {
	case "Get":
		return m.getCalls.Load()
	case "MGet":
		return m.mgetCalls.Load()
	case "Set":
		return m.setCalls.Load()
	case "MSet":
		return m.msetCalls.Load()
	case "MDelete":
		return m.mdeleteCalls.Load()
	case "Health":
		return m.healthCalls.Load()
	case "Close":
		return m.closeCalls.Load()
	default:
		return 0
	}
}

// ResetCounters zeroes all call counters.
func (m *MockCache) ResetCounters() {
	for _, c := range []*atomic.Int64{&m.getCalls, &m.mgetCalls, &m.setCalls, &m.msetCalls, &m.mdeleteCalls, &m.healthCalls, &m.closeCalls} {
		c.Store(0)
	}
}

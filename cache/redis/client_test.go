package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-coherence/cache"
)

const (
	testIDs  = "shop:user:id"
	testData = "shop:user:data"
)

// setupTestRedis creates a miniredis server and client for testing.
func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := NewClient(&Config{
		Host:     mr.Host(),
		Port:     mr.Server().Addr().Port,
		PoolSize: 4,
		Prefix:   "test:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("InvalidConfig", func(t *testing.T) {
		_, err := NewClient(&Config{Port: 6379, PoolSize: 1})

		var cfgErr *cache.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "redis.host", cfgErr.Field)
	})

	t.Run("Unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		port := mr.Server().Addr().Port
		mr.Close()

		_, err := NewClient(&Config{Host: "127.0.0.1", Port: port, PoolSize: 1, DialTimeout: 100 * time.Millisecond, MaxRetries: -1})

		var connErr *cache.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "ping", connErr.Op)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Host: "localhost", Port: 6379, PoolSize: 1}
	require.NoError(t, valid.Validate())
	assert.Equal(t, "localhost:6379", valid.Address())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port", func(c *Config) { c.Port = 70000 }, "redis.port"},
		{"database", func(c *Config) { c.Database = 16 }, "redis.database"},
		{"pool", func(c *Config) { c.PoolSize = 0 }, "redis.poolsize"},
		{"dial", func(c *Config) { c.DialTimeout = -time.Second }, "redis.dialtimeout"},
		{"read", func(c *Config) { c.ReadTimeout = -2 }, "redis.readtimeout"},
		{"write", func(c *Config) { c.WriteTimeout = -2 }, "redis.writetimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			var cfgErr *cache.ConfigError
			require.ErrorAs(t, cfg.Validate(), &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	_, err := client.Get(ctx, testIDs, "1")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, client.Set(ctx, testIDs, "1", []byte("ann"), 0))

	got, err := client.Get(ctx, testIDs, "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("ann"), got)

	fields, err := mr.HKeys("test:" + testIDs)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, fields)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	client, _ := setupTestRedis(t)

	now := time.Unix(1_700_000_000, 0)
	client.now = func() time.Time { return now }

	require.NoError(t, client.Set(ctx, testIDs, "1", []byte("ann"), time.Minute))
	require.NoError(t, client.Set(ctx, testIDs, "2", []byte("bob"), 0))

	_, err := client.Get(ctx, testIDs, "1")
	require.NoError(t, err)

	now = now.Add(time.Minute)

	_, err = client.Get(ctx, testIDs, "1")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	got, err := client.MGet(ctx, testIDs, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"2": []byte("bob")}, got)
}

func TestExpiredFieldsArePrunedOnRead(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	now := time.Unix(1_700_000_000, 0)
	client.now = func() time.Time { return now }

	require.NoError(t, client.MSet(ctx, testIDs, map[string][]byte{
		"1": []byte("ann"),
		"3": []byte("cid"),
	}, time.Minute))
	require.NoError(t, client.Set(ctx, testIDs, "2", []byte("bob"), 0))

	now = now.Add(time.Minute)

	_, err := client.Get(ctx, testIDs, "1")
	require.ErrorIs(t, err, cache.ErrNotFound)
	fields, err := mr.HKeys("test:" + testIDs)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2", "3"}, fields)

	got, err := client.MGet(ctx, testIDs, []string{"3", "2"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"2": []byte("bob")}, got)
	fields, err = mr.HKeys("test:" + testIDs)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, fields)
}

func TestPruneKeepsRewrittenFields(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	require.NoError(t, client.Set(ctx, testIDs, "1", []byte("old"), time.Minute))
	stale := []byte(mr.HGet("test:"+testIDs, "1"))
	require.NoError(t, client.Set(ctx, testIDs, "1", []byte("new"), time.Hour))

	client.prune(ctx, testIDs, map[string][]byte{"1": stale})

	got, err := client.Get(ctx, testIDs, "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestMSetMGet(t *testing.T) {
	ctx := context.Background()
	client, _ := setupTestRedis(t)

	require.NoError(t, client.MSet(ctx, testIDs, map[string][]byte{
		"1": []byte("ann"),
		"2": []byte("bob"),
	}, time.Hour))

	got, err := client.MGet(ctx, testIDs, []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"1": []byte("ann"), "2": []byte("bob")}, got)

	empty, err := client.MGet(ctx, testIDs, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, client.MSet(ctx, testIDs, nil, 0))
}

func TestNegativeTTL(t *testing.T) {
	client, _ := setupTestRedis(t)
	assert.ErrorIs(t, client.Set(context.Background(), testIDs, "1", nil, -time.Second), cache.ErrInvalidTTL)
}

func TestCorruptField(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)
	mr.HSet("test:"+testIDs, "1", "\xff")

	_, err := client.Get(ctx, testIDs, "1")
	var opErr *cache.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "get", opErr.Op)

	_, err = client.MGet(ctx, testIDs, []string{"1"})
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "1", opErr.Key)
}

func TestMDelete(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	require.NoError(t, client.MSet(ctx, testIDs, map[string][]byte{"1": nil, "2": nil, "3": nil}, 0))
	require.NoError(t, client.MSet(ctx, testData, map[string][]byte{"list:a": nil, "list-count:a": nil}, 0))

	require.NoError(t, client.MDelete(ctx, []cache.KeyGroup{
		{Namespace: testIDs, Members: []string{"1", "3"}},
		{Namespace: "shop:user:index:email"},
		cache.Bucket(testData),
	}))

	fields, err := mr.HKeys("test:" + testIDs)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, fields)
	assert.False(t, mr.Exists("test:"+testData))

	require.NoError(t, client.MDelete(ctx, nil))
}

func TestOperationsAfterServerLoss(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)
	mr.Close()

	var opErr *cache.OperationError
	_, err := client.Get(ctx, testIDs, "1")
	assert.ErrorAs(t, err, &opErr)

	_, err = client.MGet(ctx, testIDs, []string{"1"})
	assert.ErrorAs(t, err, &opErr)

	assert.ErrorAs(t, client.Set(ctx, testIDs, "1", nil, 0), &opErr)
	assert.ErrorAs(t, client.MDelete(ctx, []cache.KeyGroup{cache.Bucket(testData)}), &opErr)

	var connErr *cache.ConnectionError
	assert.ErrorAs(t, client.Health(ctx), &connErr)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	client, _ := setupTestRedis(t)

	require.NoError(t, client.Health(ctx))
	require.NoError(t, client.Close())
	assert.True(t, errors.Is(client.Close(), cache.ErrClosed))

	_, err := client.Get(ctx, testIDs, "1")
	assert.ErrorIs(t, err, cache.ErrClosed)
	_, err = client.MGet(ctx, testIDs, []string{"1"})
	assert.ErrorIs(t, err, cache.ErrClosed)
	assert.ErrorIs(t, client.Set(ctx, testIDs, "1", nil, 0), cache.ErrClosed)
	assert.ErrorIs(t, client.MDelete(ctx, nil), cache.ErrClosed)
	assert.ErrorIs(t, client.Health(ctx), cache.ErrClosed)
}

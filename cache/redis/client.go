// Package redis implements cache.Cache on Redis. Every namespace is one hash whose fields
// are the keys, so a whole namespace is dropped with a single DEL.
package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gaborage/go-coherence/cache"
	"github.com/gaborage/go-coherence/cache/internal/tracking"
)

// Hash fields cannot expire individually on the Redis versions we target, so each value
// carries its own absolute deadline and expired fields read as misses.
type envelope struct {
	ExpiresAt int64  `cbor:"1,keyasint,omitempty"` // unix ms, 0 = never
	Value     []byte `cbor:"2,keyasint"`
}

// pruneScript deletes expired fields that still hold the bytes the reader saw, so a value
// rewritten since the read survives. ARGV is field, value pairs.
var pruneScript = redis.NewScript(`
local n = 0
for i = 1, #ARGV, 2 do
  if redis.call('HGET', KEYS[1], ARGV[i]) == ARGV[i + 1] then
    n = n + redis.call('HDEL', KEYS[1], ARGV[i])
  end
end
return n
`)

// Client implements cache.Cache on a go-redis client.
type Client struct {
	client *redis.Client
	config *Config
	closed atomic.Bool
	now    func() time.Time
}

var _ cache.Cache = (*Client)(nil)

// NewClient validates cfg, connects and pings the server.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Address(),
		Password:        cfg.Password,
		DB:              cfg.Database,
		PoolSize:        cfg.PoolSize,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, cache.NewConnectionError("ping", cfg.Address(), err)
	}

	return &Client{client: client, config: cfg, now: time.Now}, nil
}

func (c *Client) key(namespace string) string {
	return c.config.Prefix + namespace
}

func (c *Client) wrap(value []byte, ttl time.Duration) ([]byte, error) {
	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = c.now().Add(ttl).UnixMilli()
	}
	return cache.Marshal(env)
}

// unwrap returns the payload of a stored field, or false when it has expired.
func (c *Client) unwrap(raw []byte) ([]byte, bool, error) {
	env, err := cache.Unmarshal[envelope](raw)
	if err != nil {
		return nil, false, err
	}
	if env.ExpiresAt != 0 && c.now().UnixMilli() >= env.ExpiresAt {
		return nil, false, nil
	}
	return env.Value, true, nil
}

// prune removes expired fields found by a read. Failures only leave the fields for the
// next read to find.
func (c *Client) prune(ctx context.Context, namespace string, expired map[string][]byte) {
	if len(expired) == 0 {
		return
	}
	args := make([]any, 0, 2*len(expired))
	for field, raw := range expired {
		args = append(args, field, raw)
	}

	start := time.Now()
	err := pruneScript.Run(ctx, c.client, []string{c.key(namespace)}, args...).Err()
	tracking.RecordCacheOperation(ctx, tracking.OpPrune, time.Since(start), err, namespace)
}

// Get returns cache.ErrNotFound for absent and expired keys. Expired keys are removed.
func (c *Client) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, cache.ErrClosed
	}

	start := time.Now()
	raw, err := c.client.HGet(ctx, c.key(namespace), key).Bytes()
	missing := errors.Is(err, redis.Nil)
	if missing {
		err = nil
	}
	tracking.RecordCacheOperation(ctx, tracking.OpGet, time.Since(start), err, namespace)

	if err != nil {
		return nil, cache.NewOperationError("get", namespace, key, err)
	}
	if missing {
		return nil, cache.ErrNotFound
	}

	value, live, err := c.unwrap(raw)
	if err != nil {
		return nil, cache.NewOperationError("get", namespace, key, err)
	}
	if !live {
		c.prune(ctx, namespace, map[string][]byte{key: raw})
		return nil, cache.ErrNotFound
	}
	return value, nil
}

// MGet reads all keys with one HMGET and removes the expired ones it finds.
func (c *Client) MGet(ctx context.Context, namespace string, keys []string) (map[string][]byte, error) {
	if c.closed.Load() {
		return nil, cache.ErrClosed
	}

	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	start := time.Now()
	values, err := c.client.HMGet(ctx, c.key(namespace), keys...).Result()
	tracking.RecordCacheOperation(ctx, tracking.OpMGet, time.Since(start), err, namespace)
	if err != nil {
		return nil, cache.NewOperationError("mget", namespace, "", err)
	}

	var expired map[string][]byte
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		value, live, err := c.unwrap([]byte(s))
		if err != nil {
			return nil, cache.NewOperationError("mget", namespace, keys[i], err)
		}
		if !live {
			if expired == nil {
				expired = make(map[string][]byte)
			}
			expired[keys[i]] = []byte(s)
			continue
		}
		out[keys[i]] = value
	}
	c.prune(ctx, namespace, expired)
	return out, nil
}

// Set stores value in the namespace hash. A zero ttl never expires.
func (c *Client) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	return c.MSet(ctx, namespace, map[string][]byte{key: value}, ttl)
}

// MSet writes all values with one HSET.
func (c *Client) MSet(ctx context.Context, namespace string, values map[string][]byte, ttl time.Duration) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}
	if ttl < 0 {
		return cache.ErrInvalidTTL
	}
	if len(values) == 0 {
		return nil
	}

	fields := make(map[string]any, len(values))
	for k, v := range values {
		data, err := c.wrap(v, ttl)
		if err != nil {
			return cache.NewOperationError("set", namespace, k, err)
		}
		fields[k] = data
	}

	op := tracking.OpMSet
	if len(values) == 1 {
		op = tracking.OpSet
	}

	start := time.Now()
	err := c.client.HSet(ctx, c.key(namespace), fields).Err()
	tracking.RecordCacheOperation(ctx, op, time.Since(start), err, namespace)
	if err != nil {
		return cache.NewOperationError("set", namespace, "", err)
	}
	return nil
}

// MDelete runs every group inside one MULTI/EXEC: DEL for whole namespaces and HDEL for
// member lists. Empty groups are skipped.
func (c *Client) MDelete(ctx context.Context, groups []cache.KeyGroup) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}

	live := make([]cache.KeyGroup, 0, len(groups))
	for _, g := range groups {
		if !g.Empty() {
			live = append(live, g)
		}
	}
	if len(live) == 0 {
		return nil
	}

	start := time.Now()
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, g := range live {
			if g.All {
				pipe.Del(ctx, c.key(g.Namespace))
				continue
			}
			pipe.HDel(ctx, c.key(g.Namespace), g.Members...)
		}
		return nil
	})
	tracking.RecordCacheOperation(ctx, tracking.OpMDelete, time.Since(start), err, live[0].Namespace)
	if err != nil {
		return cache.NewOperationError("mdelete", live[0].Namespace, "", err)
	}
	return nil
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}

	start := time.Now()
	err := c.client.Ping(ctx).Err()
	tracking.RecordCacheOperation(ctx, tracking.OpHealth, time.Since(start), err, "")
	if err != nil {
		return cache.NewConnectionError("ping", c.config.Address(), err)
	}
	return nil
}

// Close releases the connection pool. A second Close returns cache.ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return cache.ErrClosed
	}
	return c.client.Close()
}

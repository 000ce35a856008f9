package redis

import (
	"fmt"
	"time"

	"github.com/gaborage/go-coherence/cache"
)

// Config holds Redis connection settings.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Password is expected from the environment (CACHE_REDIS_PASSWORD).
	Password string `koanf:"password"` //nolint:gosec // config field

	// Database must be within 0-15.
	Database int `koanf:"database"`

	// Prefix is prepended to every namespace, isolating deployments sharing a server.
	Prefix string `koanf:"prefix"`

	PoolSize     int           `koanf:"poolsize"`
	DialTimeout  time.Duration `koanf:"dialtimeout"`
	ReadTimeout  time.Duration `koanf:"readtimeout"`  // -1 disables
	WriteTimeout time.Duration `koanf:"writetimeout"` // -1 disables

	MaxRetries      int           `koanf:"maxretries"` // -1 disables
	MinRetryBackoff time.Duration `koanf:"minretrybackoff"`
	MaxRetryBackoff time.Duration `koanf:"maxretrybackoff"`
}

// Validate checks the configuration before any connection is attempted.
func (c *Config) Validate() error {
	if c.Host == "" {
		return cache.NewConfigError("redis.host", "host is required", nil)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return cache.NewConfigError("redis.port", fmt.Sprintf("invalid port: %d", c.Port), nil)
	}
	if c.Database < 0 || c.Database > 15 {
		return cache.NewConfigError("redis.database", fmt.Sprintf("invalid database number: %d (must be 0-15)", c.Database), nil)
	}
	if c.PoolSize <= 0 {
		return cache.NewConfigError("redis.poolsize", fmt.Sprintf("invalid pool size: %d (must be > 0)", c.PoolSize), nil)
	}
	if c.DialTimeout < 0 {
		return cache.NewConfigError("redis.dialtimeout", "dial timeout cannot be negative", nil)
	}
	if c.ReadTimeout < -1 {
		return cache.NewConfigError("redis.readtimeout", "read timeout cannot be less than -1", nil)
	}
	if c.WriteTimeout < -1 {
		return cache.NewConfigError("redis.writetimeout", "write timeout cannot be less than -1", nil)
	}
	return nil
}

// Address returns "host:port".
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Package config loads service configuration with koanf. Sources by priority, highest
// first: environment variables, config.<env>.yaml, config.yaml, built-in defaults.
// Environment variables map UPPER_SNAKE to lower.dotted keys (CACHE_REDIS_HOST is
// cache.redis.host).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Load reads configuration from the working directory and the environment.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom is Load with the YAML files looked up in dir. Missing files are skipped.
func LoadFrom(dir string) (*Config, error) {
	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := loadOptionalFile(k, dir+"/config.yaml"); err != nil {
		return nil, err
	}
	if env := k.String("app.env"); env != "" {
		if err := loadOptionalFile(k, fmt.Sprintf("%s/config.%s.yaml", dir, env)); err != nil {
			return nil, err
		}
	}

	return finish(k)
}

// LoadFromBytes reads configuration from an in-memory YAML document instead of files.
// Environment variables still take precedence.
func LoadFromBytes(data []byte) (*Config, error) {
	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return finish(k)
}

func loadOptionalFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func finish(k *koanf.Koanf) (*Config, error) {
	if err := k.Load(envprovider.Provider("", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":    "coherence-service",
		"app.version": "v1.0.0",
		"app.env":     EnvDevelopment,

		// The database has no defaults; it is enabled only when configured.

		"cache.ttl":                   "0s",
		"cache.redis.port":            6379,
		"cache.redis.database":        0,
		"cache.redis.poolsize":        10,
		"cache.redis.dialtimeout":     "5s",
		"cache.redis.readtimeout":     "3s",
		"cache.redis.writetimeout":    "3s",
		"cache.redis.maxretries":      3,
		"cache.redis.minretrybackoff": "8ms",
		"cache.redis.maxretrybackoff": "512ms",

		"log.level":  "info",
		"log.pretty": false,

		"server.host":            "",
		"server.port":            8081,
		"server.readtimeout":     "5s",
		"server.writetimeout":    "5s",
		"server.shutdowntimeout": "10s",

		"observability.enabled":         false,
		"observability.trace.enabled":   true,
		"observability.metrics.enabled": true,
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}

// GetString returns the raw value at key, or def when the key is unset.
func (c *Config) GetString(key, def string) string {
	if c == nil || c.k == nil || !c.k.Exists(key) {
		return def
	}
	return c.k.String(key)
}

// Exists reports whether key was set by any source.
func (c *Config) Exists(key string) bool {
	return c != nil && c.k != nil && c.k.Exists(key)
}

package config

import (
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/gaborage/go-coherence/cache/redis"
	"github.com/gaborage/go-coherence/observability"
)

// Config is the root configuration of a coherence service.
type Config struct {
	App      AppConfig               `koanf:"app"`
	Database DatabaseConfig          `koanf:"database"`
	Cache    CacheConfig             `koanf:"cache"`
	Log      LogConfig               `koanf:"log"`
	Server   ServerConfig            `koanf:"server"`
	Entities map[string]EntityConfig `koanf:"entities"`

	Observability observability.Config `koanf:"observability"`

	k *koanf.Koanf
}

// AppConfig identifies the service.
type AppConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
	Env     string `koanf:"env"`

	// System is the first segment of every cache namespace. Defaults to Name.
	System string `koanf:"system"`
}

// DatabaseConfig holds the PostgreSQL connection settings. The database is considered
// configured when Host or ConnectionString is set.
type DatabaseConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"` //nolint:gosec // config field
	SSLMode  string `koanf:"sslmode"`

	ConnectionString string `koanf:"connectionstring"`

	Pool PoolConfig `koanf:"pool"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConns        int32         `koanf:"maxconns"`
	MaxIdleConns    int32         `koanf:"maxidleconns"`
	ConnMaxLifetime time.Duration `koanf:"connmaxlifetime"`
	ConnMaxIdleTime time.Duration `koanf:"connmaxidletime"`
}

// CacheConfig holds the Redis settings and the default entry TTL.
type CacheConfig struct {
	// TTL applies to entities without their own. Zero keeps entries until invalidated.
	TTL   time.Duration `koanf:"ttl"`
	Redis redis.Config  `koanf:"redis"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// ServerConfig holds the operations HTTP server settings. The server only exposes
// health endpoints; a zero Port disables it.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"readtimeout"`
	WriteTimeout    time.Duration `koanf:"writetimeout"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout"`
}

// EntityConfig describes one cached table. The map key in Config.Entities is the entity
// name used in cache namespaces.
type EntityConfig struct {
	Table string `koanf:"table"`
	Title string `koanf:"title"`
	Key   string `koanf:"key"`

	// TTL overrides CacheConfig.TTL when positive.
	TTL time.Duration `koanf:"ttl"`

	Columns []string `koanf:"columns"`
	Pick    []string `koanf:"pick"`

	// Sort is the monotonically increasing column used by cursor pagination.
	Sort string `koanf:"sort"`

	Caches CachesConfig `koanf:"caches"`
}

// CachesConfig lists secondary cache dimensions as `field[:aux,...]` entries.
type CachesConfig struct {
	Index []string `koanf:"index"`
	Count []string `koanf:"count"`
}

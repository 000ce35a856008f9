//go:build integration

// Package containers starts PostgreSQL and Redis in Docker for integration tests.
// Tests are skipped when no Docker daemon is reachable.
package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/go-coherence/cache/redis"
	"github.com/gaborage/go-coherence/config"
)

const startupTimeout = 60 * time.Second

func requireDocker(ctx context.Context, t *testing.T) {
	t.Helper()
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		t.Skip("Docker is not available, skipping integration test")
	}
	defer provider.Close()
	if _, err := provider.DaemonHost(ctx); err != nil {
		t.Skip("Docker is not available, skipping integration test")
	}
}

// Postgres is a running PostgreSQL container.
type Postgres struct {
	DSN string
}

// StartPostgres runs postgres:17-alpine and terminates it when the test ends.
func StartPostgres(ctx context.Context, t *testing.T) *Postgres {
	t.Helper()
	requireDocker(ctx, t)

	c, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("coherence"),
		postgres.WithUsername("coherence"),
		postgres.WithPassword("coherence"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to read PostgreSQL connection string: %v", err)
	}
	return &Postgres{DSN: dsn}
}

// DatabaseConfig points a configuration at the container.
func (p *Postgres) DatabaseConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		ConnectionString: p.DSN,
		Pool:             config.PoolConfig{MaxConns: 5, MaxIdleConns: 2},
	}
}

// Redis is a running Redis container.
type Redis struct {
	Host string
	Port int
}

// StartRedis runs redis:7-alpine and terminates it when the test ends.
func StartRedis(ctx context.Context, t *testing.T) *Redis {
	t.Helper()
	requireDocker(ctx, t)

	c, err := tcredis.Run(ctx, "redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("failed to read Redis host: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("failed to read Redis port: %v", err)
	}
	return &Redis{Host: host, Port: port.Int()}
}

// CacheConfig points a cache configuration at the container.
func (r *Redis) CacheConfig() redis.Config {
	return redis.Config{
		Host:         r.Host,
		Port:         r.Port,
		PoolSize:     5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

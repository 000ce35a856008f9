package app

import (
	"github.com/gaborage/go-coherence/cache"
	"github.com/gaborage/go-coherence/cache/redis"
	"github.com/gaborage/go-coherence/config"
	"github.com/gaborage/go-coherence/database/postgresql"
	"github.com/gaborage/go-coherence/database/types"
	"github.com/gaborage/go-coherence/logger"
	"github.com/gaborage/go-coherence/observability"
)

// DatabaseConnector opens the database described by cfg.
type DatabaseConnector func(cfg *config.DatabaseConfig, log logger.Logger) (types.Interface, error)

// CacheConnector connects to the cache described by cfg.
type CacheConnector func(cfg *redis.Config) (cache.Cache, error)

// TelemetryFactory builds the telemetry pipelines.
type TelemetryFactory func(cfg *observability.Config) (observability.Provider, error)

// Options overrides the dependencies New would otherwise build from configuration.
// Nil fields fall back to the production implementations.
type Options struct {
	ConfigLoader      func() (*config.Config, error)
	Logger            logger.Logger
	DatabaseConnector DatabaseConnector
	CacheConnector    CacheConnector
	Telemetry         TelemetryFactory
}

func (o *Options) withDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.ConfigLoader == nil {
		out.ConfigLoader = config.Load
	}
	if out.DatabaseConnector == nil {
		out.DatabaseConnector = connectPostgres
	}
	if out.CacheConnector == nil {
		out.CacheConnector = connectRedis
	}
	if out.Telemetry == nil {
		out.Telemetry = observability.NewProvider
	}
	return &out
}

func connectPostgres(cfg *config.DatabaseConfig, log logger.Logger) (types.Interface, error) {
	conn, err := postgresql.NewConnection(cfg, log)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func connectRedis(cfg *redis.Config) (cache.Cache, error) {
	client, err := redis.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

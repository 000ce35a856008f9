// Package app wires a coherence service from configuration: the database, the cache, one
// coherence.Service per configured entity, telemetry and a small operations HTTP server
// exposing health and cache maintenance endpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/gaborage/go-coherence/cache"
	"github.com/gaborage/go-coherence/coherence"
	"github.com/gaborage/go-coherence/config"
	"github.com/gaborage/go-coherence/database/types"
	"github.com/gaborage/go-coherence/logger"
	"github.com/gaborage/go-coherence/observability"
	"github.com/gaborage/go-coherence/store"
)

var (
	// ErrUnknownEntity is returned by Service for names missing from the configuration.
	ErrUnknownEntity = errors.New("app: unknown entity")

	// ErrDatabaseRequired is returned when entities are configured without a database.
	ErrDatabaseRequired = errors.New("app: entities need a database")

	// ErrCacheRequired is returned when entities are configured without a cache.
	ErrCacheRequired = errors.New("app: entities need a cache")
)

// App is a bootstrapped coherence service.
type App struct {
	cfg       *config.Config
	log       logger.Logger
	db        types.Interface
	cache     cache.Cache
	reader    *cache.Reader
	coord     *coherence.Coordinator
	services  map[string]*coherence.Service
	telemetry observability.Provider
	server    *echo.Echo
	probes    []HealthProbe

	shutdownOnce sync.Once
	shutdownErr  error
}

// New loads the configuration and builds the App.
func New() (*App, error) {
	return NewWithOptions(nil)
}

// NewWithOptions is New with dependency overrides.
func NewWithOptions(opts *Options) (*App, error) {
	opts = opts.withDefaults()
	cfg, err := opts.ConfigLoader()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(cfg, opts)
}

// NewWithConfig builds the App from an already loaded configuration. Everything opened
// before a failure is closed again.
func NewWithConfig(cfg *config.Config, opts *Options) (_ *App, err error) {
	opts = opts.withDefaults()

	log := opts.Logger
	if log == nil {
		log = logger.New(cfg.Log.Level, cfg.Log.Pretty)
	}
	log = log.WithFields(map[string]any{"app": cfg.App.Name, "env": cfg.App.Env})

	a := &App{cfg: cfg, log: log, services: map[string]*coherence.Service{}}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.Background())
		}
	}()

	a.telemetry, err = opts.Telemetry(&cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if config.IsDatabaseConfigured(&cfg.Database) {
		a.db, err = opts.DatabaseConnector(&cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.coord = coherence.NewCoordinator(a.db, log)
	}

	if cfg.Cache.Redis.Host != "" {
		a.cache, err = opts.CacheConnector(&cfg.Cache.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to cache: %w", err)
		}
		a.reader = cache.NewReader(a.cache)
	}

	if err = a.buildServices(); err != nil {
		return nil, err
	}

	a.probes = []HealthProbe{databaseProbe(a.db), cacheProbe(a.cache)}
	a.server = newOpsServer(a)

	log.Info().
		Int("entities", len(a.services)).
		Str("system", cfg.App.System).
		Msg("Coherence service initialized")
	return a, nil
}

func (a *App) buildServices() error {
	if len(a.cfg.Entities) == 0 {
		return nil
	}
	if a.db == nil {
		return ErrDatabaseRequired
	}
	if a.cache == nil {
		return ErrCacheRequired
	}

	for _, name := range entityNames(a.cfg.Entities) {
		e := a.cfg.Entities[name]
		st, err := store.NewSQLStore(a.db, store.Table{
			Name:    e.Table,
			Key:     e.Key,
			Columns: e.Columns,
			Sort:    e.Sort,
		})
		if err != nil {
			return fmt.Errorf("entity %s: %w", name, err)
		}

		ttl := e.TTL
		if ttl == 0 {
			ttl = a.cfg.Cache.TTL
		}
		svc, err := coherence.NewService(coherence.EntityConfig{
			Name:    name,
			Title:   e.Title,
			Key:     e.Key,
			System:  a.cfg.App.System,
			TTL:     ttl,
			Columns: e.Columns,
			Pick:    e.Pick,
			Caches: coherence.CacheFields{
				Index: e.Caches.Index,
				Count: e.Caches.Count,
			},
		}, st, a.reader, a.log)
		if err != nil {
			return fmt.Errorf("entity %s: %w", name, err)
		}
		a.services[name] = svc
	}
	return nil
}

func entityNames(entities map[string]config.EntityConfig) []string {
	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config returns the validated configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() logger.Logger { return a.log }

// Coordinator returns the unit-of-work coordinator, or nil without a database.
func (a *App) Coordinator() *coherence.Coordinator { return a.coord }

// Reader returns the cache-aside reader, or nil without a cache.
func (a *App) Reader() *cache.Reader { return a.reader }

// Echo returns the operations server.
func (a *App) Echo() *echo.Echo { return a.server }

// Service returns the service of the named entity.
func (a *App) Service(name string) (*coherence.Service, error) {
	svc, ok := a.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return svc, nil
}

// Entities lists the configured entity names in order.
func (a *App) Entities() []string {
	names := make([]string, 0, len(a.services))
	for name := range a.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

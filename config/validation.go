package config

import (
	"fmt"
	"slices"
	"sort"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

const (
	defaultPostgresPort = 5432
	defaultMaxConns     = 25
	defaultMaxIdleConns = 2
)

var validLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}

// Validate checks cfg and fills derived defaults (app.system, database pool sizes,
// entity table and key names). It mutates cfg.
func Validate(cfg *Config) error {
	if err := validateApp(&cfg.App); err != nil {
		return fmt.Errorf("app config: %w", err)
	}
	if err := validateDatabase(&cfg.Database); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := validateCache(&cfg.Cache); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateObservability(cfg); err != nil {
		return fmt.Errorf("observability config: %w", err)
	}
	if err := validateEntities(cfg.Entities); err != nil {
		return fmt.Errorf("entities config: %w", err)
	}
	return nil
}

func validateApp(cfg *AppConfig) error {
	if cfg.Name == "" {
		return NewMissingFieldError("app.name", "APP_NAME", "app.name")
	}

	envs := []string{EnvDevelopment, EnvStaging, EnvProduction}
	if !slices.Contains(envs, cfg.Env) {
		return NewInvalidFieldError("app.env", fmt.Sprintf("unknown environment %q", cfg.Env), envs)
	}

	if cfg.System == "" {
		cfg.System = cfg.Name
	}
	return nil
}

// IsDatabaseConfigured reports whether a database connection was requested.
func IsDatabaseConfigured(cfg *DatabaseConfig) bool {
	return cfg.ConnectionString != "" || cfg.Host != ""
}

func validateDatabase(cfg *DatabaseConfig) error {
	if !IsDatabaseConfigured(cfg) {
		return nil
	}

	if cfg.ConnectionString == "" {
		if cfg.Port == 0 {
			cfg.Port = defaultPostgresPort
		}
		if cfg.Port < 0 || cfg.Port > 65535 {
			return NewInvalidFieldError("database.port", fmt.Sprintf("invalid port %d", cfg.Port), nil)
		}
		if cfg.Database == "" {
			return NewMissingFieldError("database.database", "DATABASE_DATABASE", "database.database")
		}
		if cfg.Username == "" {
			return NewMissingFieldError("database.username", "DATABASE_USERNAME", "database.username")
		}
	}

	if cfg.Pool.MaxConns == 0 {
		cfg.Pool.MaxConns = defaultMaxConns
	}
	if cfg.Pool.MaxIdleConns == 0 {
		cfg.Pool.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.Pool.MaxConns < 0 || cfg.Pool.MaxIdleConns < 0 {
		return NewInvalidFieldError("database.pool", "connection counts cannot be negative", nil)
	}
	return nil
}

func validateCache(cfg *CacheConfig) error {
	if cfg.TTL < 0 {
		return NewInvalidFieldError("cache.ttl", "ttl cannot be negative", nil)
	}
	if cfg.Redis.Host == "" {
		return nil
	}
	return cfg.Redis.Validate()
}

func validateLog(cfg *LogConfig) error {
	if !slices.Contains(validLogLevels, cfg.Level) {
		return NewInvalidFieldError("log.level", fmt.Sprintf("invalid log level %q", cfg.Level), validLogLevels)
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return NewInvalidFieldError("server.port", fmt.Sprintf("invalid port %d", cfg.Port), nil)
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.ShutdownTimeout < 0 {
		return NewInvalidFieldError("server", "timeouts cannot be negative", nil)
	}
	return nil
}

// validateObservability names the telemetry service after the app unless told otherwise.
func validateObservability(cfg *Config) error {
	o := &cfg.Observability
	if o.Service.Name == "" {
		o.Service.Name = cfg.App.Name
	}
	if o.Service.Version == "" {
		o.Service.Version = cfg.App.Version
	}
	if o.Environment == "" {
		o.Environment = cfg.App.Env
	}
	o.ApplyDefaults()
	return o.Validate()
}

func validateEntities(entities map[string]EntityConfig) error {
	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := entities[name]
		if e.TTL < 0 {
			return NewInvalidFieldError("entities."+name+".ttl", "ttl cannot be negative", nil)
		}
		if e.Table == "" {
			e.Table = name
		}
		if e.Key == "" {
			e.Key = "id"
		}
		if e.Title == "" {
			e.Title = name
		}
		entities[name] = e
	}
	return nil
}

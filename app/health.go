package app

import (
	"context"

	"github.com/gaborage/go-coherence/cache"
	"github.com/gaborage/go-coherence/database/types"
)

const (
	healthyStatus   = "healthy"
	unhealthyStatus = "unhealthy"
	disabledStatus  = "disabled"
)

// HealthStatus captures the outcome of a readiness probe.
type HealthStatus struct {
	Name     string         `json:"name"`
	Status   string         `json:"status"`
	Details  map[string]any `json:"details,omitempty"`
	Err      error          `json:"-"`
	Critical bool           `json:"critical"`
}

// Error is the probe error message, empty when the probe passed.
func (s HealthStatus) Error() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Failed reports a critical probe that did not pass.
func (s HealthStatus) Failed() bool {
	return s.Critical && s.Status == unhealthyStatus
}

// HealthProbe exposes a uniform interface for readiness probes.
type HealthProbe interface {
	Run(ctx context.Context) HealthStatus
}

type healthProbeFunc struct {
	name     string
	critical bool
	fn       func(ctx context.Context) (string, map[string]any, error)
}

func (h healthProbeFunc) Run(ctx context.Context) HealthStatus {
	status, details, err := h.fn(ctx)
	return HealthStatus{
		Name:     h.name,
		Status:   status,
		Details:  details,
		Err:      err,
		Critical: h.critical,
	}
}

func disabledProbe(name string) HealthProbe {
	return healthProbeFunc{
		name: name,
		fn: func(context.Context) (string, map[string]any, error) {
			return disabledStatus, nil, nil
		},
	}
}

func databaseProbe(db types.Interface) HealthProbe {
	if db == nil {
		return disabledProbe("database")
	}
	return healthProbeFunc{
		name:     "database",
		critical: true,
		fn: func(ctx context.Context) (string, map[string]any, error) {
			stats, err := db.Stats()
			if err != nil {
				stats = map[string]any{"stats_error": err.Error()}
			}
			if err := db.Health(ctx); err != nil {
				return unhealthyStatus, stats, err
			}
			return healthyStatus, stats, nil
		},
	}
}

func cacheProbe(c cache.Cache) HealthProbe {
	if c == nil {
		return disabledProbe("cache")
	}
	return healthProbeFunc{
		name:     "cache",
		critical: true,
		fn: func(ctx context.Context) (string, map[string]any, error) {
			if err := c.Health(ctx); err != nil {
				return unhealthyStatus, nil, err
			}
			return healthyStatus, nil, nil
		},
	}
}

// Check runs every probe. Ready is false when a critical probe failed.
func (a *App) Check(ctx context.Context) (ready bool, statuses []HealthStatus) {
	ready = true
	statuses = make([]HealthStatus, 0, len(a.probes))
	for _, p := range a.probes {
		s := p.Run(ctx)
		if s.Failed() {
			ready = false
			a.log.Warn().Err(s.Err).Str("probe", s.Name).Msg("Readiness probe failed")
		}
		statuses = append(statuses, s)
	}
	return ready, statuses
}

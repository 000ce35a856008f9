package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/gaborage/go-coherence/logger"
)

const (
	healthPath = "/health"
	readyPath  = "/ready"
)

type entityInfo struct {
	Name       string   `json:"name"`
	Key        string   `json:"key"`
	TTL        string   `json:"ttl"`
	Namespaces []string `json:"namespaces"`
}

func newOpsServer(a *App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = a.cfg.Server.ReadTimeout
	e.Server.WriteTimeout = a.cfg.Server.WriteTimeout

	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware(a.cfg.Observability.Service.Name))
	e.Use(requestLogger(a.log))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			a.log.Error().
				Err(err).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("stack", string(stack)).
				Msg("Panic recovered")
			return err
		},
	}))

	e.GET(healthPath, a.healthCheck)
	e.GET(readyPath, a.readyCheck)
	e.GET("/entities", a.listEntities)
	e.POST("/entities/:name/flush", a.flushEntity)
	return e
}

// requestLogger writes one line per request. Probe endpoints stay quiet.
func requestLogger(log logger.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == healthPath || p == readyPath
		},
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			event := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				event = log.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("Request completed")
			return nil
		},
	})
}

func (a *App) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": healthyStatus,
		"time":   time.Now().Unix(),
	})
}

func (a *App) readyCheck(c echo.Context) error {
	ready, statuses := a.Check(c.Request().Context())

	probes := make(map[string]any, len(statuses))
	for _, s := range statuses {
		entry := map[string]any{"status": s.Status, "critical": s.Critical}
		if s.Err != nil {
			entry["error"] = s.Error()
		}
		if len(s.Details) > 0 {
			entry["details"] = s.Details
		}
		probes[s.Name] = entry
	}

	code, status := http.StatusOK, "ready"
	if !ready {
		code, status = http.StatusServiceUnavailable, "not ready"
	}
	return c.JSON(code, map[string]any{
		"status": status,
		"time":   time.Now().Unix(),
		"probes": probes,
		"app": map[string]any{
			"name":        a.cfg.App.Name,
			"environment": a.cfg.App.Env,
			"version":     a.cfg.App.Version,
			"system":      a.cfg.App.System,
		},
	})
}

func (a *App) listEntities(c echo.Context) error {
	out := make([]entityInfo, 0, len(a.services))
	for _, name := range a.Entities() {
		svc := a.services[name]
		cfg := svc.Config()
		planner := svc.Planner()

		groups := planner.PlanAll()
		namespaces := make([]string, 0, len(groups))
		for _, g := range groups {
			namespaces = append(namespaces, g.Namespace)
		}
		out = append(out, entityInfo{
			Name:       name,
			Key:        cfg.Key,
			TTL:        cfg.TTL.String(),
			Namespaces: namespaces,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (a *App) flushEntity(c echo.Context) error {
	svc, err := a.Service(c.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err := svc.Flush(c.Request().Context()); err != nil {
		a.log.Error().Err(err).Str("entity", c.Param("name")).Msg("Cache flush failed")
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	}
	a.log.Info().Str("entity", c.Param("name")).Msg("Cache flushed")
	return c.NoContent(http.StatusNoContent)
}

func isServerClosed(err error) bool {
	return err == nil || errors.Is(err, http.ErrServerClosed)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gaborage/go-coherence/observability"
)

const defaultShutdownTimeout = 10 * time.Second

// Run serves until SIGINT or SIGTERM and then shuts down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext serves until ctx is done or the server fails, then shuts down. A zero
// server port runs without the operations server.
func (a *App) RunContext(ctx context.Context) error {
	serverErr := a.serve()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info().Msg("Shutdown requested")
	case err := <-serverErr:
		if !isServerClosed(err) {
			runErr = fmt.Errorf("operations server failed: %w", err)
		}
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// serve starts the operations server in a goroutine. The channel receives its exit
// error and is never written to when the server is disabled.
func (a *App) serve() <-chan error {
	errCh := make(chan error, 1)
	if a.cfg.Server.Port == 0 {
		return errCh
	}

	addr := net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port))
	go func() {
		a.log.Info().Str("addr", addr).Msg("Operations server starting")
		errCh <- a.server.Start(addr)
	}()
	return errCh
}

// Shutdown stops the server and closes the cache, the database and telemetry, in
// that order. Only the first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		var errs []error
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("server: %w", err))
			}
		}
		if a.cache != nil {
			if err := a.cache.Close(); err != nil {
				errs = append(errs, fmt.Errorf("cache: %w", err))
			}
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("database: %w", err))
			}
		}
		if a.telemetry != nil {
			timeout := defaultShutdownTimeout
			if deadline, ok := ctx.Deadline(); ok {
				timeout = time.Until(deadline)
			}
			if err := observability.Shutdown(a.telemetry, timeout); err != nil {
				errs = append(errs, err)
			}
		}
		a.shutdownErr = errors.Join(errs...)
		a.log.Info().Msg("Coherence service stopped")
	})
	return a.shutdownErr
}

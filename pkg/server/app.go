package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"OIWatch/internal/usecase"
	"OIWatch/pkg/config"
	xhttp "OIWatch/pkg/http"
	applogger "OIWatch/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	scheduler  *usecase.FetchScheduler
	alerts     *usecase.AlertPipeline
	httpServer *xhttp.Server
}

// New creates an App. alerts and httpServer may be nil when disabled.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	scheduler *usecase.FetchScheduler,
	alerts *usecase.AlertPipeline,
	httpServer *xhttp.Server,
) *App {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		logger:     logger,
		scheduler:  scheduler,
		alerts:     alerts,
		httpServer: httpServer,
	}
}

// Run starts the fetch loop, the alert pipeline and the HTTP server, and blocks
// until SIGINT/SIGTERM or ctx is cancelled. The current cycle finishes before Run returns.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.alerts != nil && a.cfg.Alert.Interval <= 0 {
		a.scheduler.AfterCycle(a.alerts.Hook())
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.logger.Error("http server start error", applogger.Error(err))
			return err
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.scheduler.Run(ctx); err != nil {
			errCh <- err
		}
	}()
	a.logger.Info("fetch scheduler started",
		applogger.Int("workers", a.cfg.Fetch.Workers),
		applogger.Duration("cycle_delay_ms", a.cfg.Fetch.CycleDelay),
		applogger.String("symbols_source", a.cfg.Symbols.Source),
	)

	if a.alerts != nil && a.cfg.Alert.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.alerts.Run(ctx); err != nil {
				errCh <- err
			}
		}()
		a.logger.Info("alert pipeline started", applogger.Duration("interval_ms", a.cfg.Alert.Interval))
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("component stopped", applogger.Error(runErr))
		stop()
	}

	wg.Wait()
	return errors.Join(runErr, a.shutdown())
}

// shutdown stops the HTTP server. Infrastructure clients are closed by the DI cleanup.
func (a *App) shutdown() error {
	a.logger.Info("shutting down")
	if a.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

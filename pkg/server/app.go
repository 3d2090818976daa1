package server

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"LighthouseMacro/internal/handler/api"
	"LighthouseMacro/internal/usecase"
	"LighthouseMacro/pkg/config"
	xhttp "LighthouseMacro/pkg/http"
	applogger "LighthouseMacro/pkg/logger"
)

// App encapsulates the engine: batch commands go through Driver, and Serve
// runs the read-only API until interrupted.
type App struct {
	cfg        *config.Config
	driver     *usecase.Driver
	registry   *prometheus.Registry
	log        *applogger.Logger
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, driver *usecase.Driver, registry *prometheus.Registry, log *applogger.Logger) *App {
	if log == nil {
		log = applogger.Nop()
	}
	return &App{
		cfg:      cfg,
		driver:   driver,
		registry: registry,
		log:      log,
	}
}

func (a *App) Driver() *usecase.Driver { return a.driver }

func (a *App) Logger() *applogger.Logger { return a.log }

// Serve starts the HTTP API and blocks until ctx is cancelled or the process
// receives SIGINT/SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewIndicatorsHandler(a.log, a.driver)
	opts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	}
	if a.registry != nil {
		opts = append(opts, xhttp.WithRegistry(a.registry))
	}
	a.httpServer = xhttp.NewServer(handler, a.log, opts...)

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) shutdown() error {
	// the serve context is already done; give shutdown its own deadline
	if err := a.httpServer.Stop(context.Background()); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}

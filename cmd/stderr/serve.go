package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/armorclaw/stderr/pkg/app"
	"github.com/armorclaw/stderr/pkg/builtin"
	"github.com/armorclaw/stderr/pkg/config"
	"github.com/armorclaw/stderr/pkg/dispatch"
	"github.com/armorclaw/stderr/pkg/eventbus"
	"github.com/armorclaw/stderr/pkg/logger"
	"github.com/armorclaw/stderr/pkg/plugin"
)

// notFoundError is raised for unknown paths.
type notFoundError struct{ path string }

func (e *notFoundError) Error() string     { return "no route for " + e.path }
func (e *notFoundError) ClassName() string { return "NotFound" }

// validationError is raised by the demo endpoint for bad input.
type validationError struct{ field string }

func (e *validationError) Error() string     { return "invalid value for " + e.field }
func (e *validationError) ClassName() string { return "ValidationError" }

// newRouter builds the HTTP surface: health, metrics, the live error stream
// and demo endpoints that fail in the ways the sample routing document routes.
func newRouter(a *app.Application, front *dispatch.FrontController, bus *eventbus.Bus, cfg *config.Config, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(front.GinRecovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"environment": a.Environment(),
			"version":     version,
		})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	if bus != nil {
		r.GET("/errors/stream", gin.WrapH(bus))
	}

	demo := r.Group("/demo")
	demo.GET("/notfound", func(c *gin.Context) {
		_ = c.Error(&notFoundError{path: c.Request.URL.Path})
	})
	demo.GET("/invalid", func(c *gin.Context) {
		_ = c.Error(&validationError{field: c.DefaultQuery("field", "name")})
	})
	demo.GET("/fatal", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("query users: %w", errors.New("database unavailable")))
	})
	demo.GET("/panic", func(*gin.Context) {
		panic("demo panic")
	})

	r.NoRoute(func(c *gin.Context) {
		_ = c.Error(&notFoundError{path: c.Request.URL.Path})
	})
	return r
}

// newResolver resolves the built-in plugins, with StreamReporter publishing
// to bus.
func newResolver(log *logger.Logger, bus *eventbus.Bus) *plugin.Resolver {
	reg := builtin.NewRegistry(builtin.WithLogger(log), builtin.WithBus(bus))
	return plugin.NewResolver(reg, plugin.WithLogger(log))
}

func runServe(cfg *config.Config, routingPath string, log *logger.Logger) error {
	bus := eventbus.New(eventbus.DefaultConfig(), log)
	defer bus.Close()

	a, err := app.Load(routingPath, cfg.Application.Environment,
		app.WithLogger(log),
		app.WithResolver(newResolver(log, bus)),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("failed to close reporters", "error", err)
		}
	}()

	if err := plugin.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	timeout, err := cfg.ShutdownTimeout()
	if err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}

	if logger.ParseLevel(cfg.Logging.Level) > logger.ParseLevel("debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	front := dispatch.New(a, dispatch.WithLogger(log))
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           newRouter(a, front, bus, cfg, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr, "environment", a.Environment())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", timeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

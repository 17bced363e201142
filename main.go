package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/rfpstudio/internal/activities"
	"github.com/Kocoro-lab/rfpstudio/internal/app"
	"github.com/Kocoro-lab/rfpstudio/internal/config"
	"github.com/Kocoro-lab/rfpstudio/internal/health"
	"github.com/Kocoro-lab/rfpstudio/internal/httpapi"
	"github.com/Kocoro-lab/rfpstudio/internal/temporal"
	"github.com/Kocoro-lab/rfpstudio/internal/tracing"
)

const (
	healthInterval   = 30 * time.Second
	temporalDialWait = time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rfpstudio:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := config.Path()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	level := zap.NewAtomicLevel()
	logger, err := newLogger(cfg.Logging, level)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfgMgr, err := config.NewManager(path, logger)
	if err != nil {
		return err
	}
	cfg = cfgMgr.Current()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Close failed", zap.Error(err))
		}
	}()

	// routing degrades to no_match on an empty corpus, so a failed seed is not fatal
	if n, err := a.SeedKnowledge(ctx); err != nil {
		logger.Warn("Knowledge seeding failed", zap.Int("loaded", n), zap.Error(err))
	} else {
		logger.Info("Knowledge corpus ready", zap.Int("loaded", n))
	}

	registry, err := a.Registry(cfg)
	if err != nil {
		return err
	}

	hm := health.NewManager(healthInterval, logger)
	for _, c := range a.HealthCheckers() {
		if err := hm.Register(c); err != nil {
			return err
		}
	}

	var durable httpapi.Runner
	if cfg.Temporal.Enabled {
		dialCtx, cancel := context.WithTimeout(ctx, temporalDialWait)
		tc, err := temporal.Dial(dialCtx, cfg.Temporal, logger)
		cancel()
		if err != nil {
			return err
		}
		defer tc.Close()

		acts := activities.NewActivities(a.AgentDeps(), a.Committer(cfg.Pipeline.Options), a.Observer, logger)
		w := temporal.NewWorker(tc, cfg.Temporal, acts)
		if err := w.Start(); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
		defer w.Stop()
		durable = temporal.NewRunner(tc, cfg.Temporal)
		_ = hm.Register(temporalChecker(tc))
		logger.Info("Temporal worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
	}
	hm.Start(ctx)
	defer hm.Stop()

	api, err := httpapi.NewServer(httpapi.Options{
		Registry: registry,
		Store:    a.Store,
		Streams:  a.Streams,
		Durable:  durable,
		APIToken: cfg.Service.APIToken,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	cfgMgr.OnChange(func(prev, next *config.Config) {
		if lvl, err := zapcore.ParseLevel(next.Logging.Level); err == nil && lvl != level.Level() {
			level.SetLevel(lvl)
			logger.Info("Log level changed", zap.String("level", lvl.String()))
		}
		reg, err := a.Reload(prev, next)
		if err != nil {
			logger.Error("Pipeline table rejected", zap.Error(err))
			return
		}
		if reg == nil {
			return
		}
		api.SetRegistry(reg)
		logger.Info("Pipeline table reloaded", zap.Strings("pipelines", reg.Names()))
	})
	if err := cfgMgr.Start(ctx); err != nil {
		logger.Warn("Config hot reload disabled", zap.Error(err))
	} else {
		defer func() { _ = cfgMgr.Stop() }()
	}

	// streams outliving WriteTimeout are cut; clients resume with last_event_id
	apiSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.Port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: cfg.Service.ReadTimeout,
		WriteTimeout:      cfg.Service.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	adminMux := http.NewServeMux()
	adminMux.Handle("GET /metrics", promhttp.Handler())
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	adminSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Service.AdminPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		logger.Info("HTTP server listening", zap.String("server", name), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("api", apiSrv)
	go serve("admin", adminSrv)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errCh:
		logger.Error("Server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	for _, srv := range []*http.Server{apiSrv, adminSrv} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown incomplete", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}
	logger.Info("Shutdown complete")
	return runErr
}

func newLogger(cfg config.LoggingConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.Level); err == nil {
		level.SetLevel(lvl)
	}
	zc.Level = level
	return zc.Build()
}

func temporalChecker(tc client.Client) health.Checker {
	return health.NewFuncChecker("temporal", false, 5*time.Second, func(ctx context.Context) health.CheckResult {
		if _, err := tc.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
			return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error(), Message: "Temporal frontend unreachable"}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: "Temporal healthy"}
	})
}

// Package main provides the entry point for the FeedForge server.
// FeedForge reconciles public threat feeds into one enriched IOC set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/api"
	"github.com/lvonguyen/feedforge/internal/api/gateway"
	"github.com/lvonguyen/feedforge/internal/app"
	"github.com/lvonguyen/feedforge/internal/config"
	"github.com/lvonguyen/feedforge/internal/scheduler"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("FeedForge %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "feedforge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, app.Options{Version: Version})
	if err != nil {
		return err
	}
	logger := a.Logger

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			logger.Warn("Shutdown error", zap.Error(err))
		}
	}()

	logger.Info("Starting FeedForge",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("config", configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.Redis != nil {
		if err := a.Ping(ctx); err != nil {
			logger.Warn("Redis not reachable at startup", zap.Error(err))
		}
	}

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched, err = scheduler.New(a.Pipeline, scheduler.Config{
			Spec:       cfg.Schedule.Cron,
			Timezone:   cfg.Schedule.Timezone,
			RunOnStart: cfg.Schedule.RunOnStart,
			RunTimeout: cfg.Server.RefreshTimeout,
		}, logger)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	checks := map[string]api.ReadinessCheck{
		"store": func(context.Context) error {
			_, err := os.Stat(a.Store.DataDir())
			return err
		},
	}
	if a.Redis != nil {
		checks["redis"] = a.Ping
	}

	srv := api.NewServer(api.Deps{
		Runner:         a.Pipeline,
		Store:          a.Store,
		Limiter:        gateway.NewRateLimiter(a.Redis, cfg.RateLimit, logger),
		Telemetry:      a.Telemetry,
		Checks:         checks,
		Version:        Version,
		RefreshTimeout: cfg.Server.RefreshTimeout,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := config.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

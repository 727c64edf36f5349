// Command server runs the backtesting API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/config"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/marketdata"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/metrics"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/orchestrator"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/sandbox"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/scheduler"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/server"
	"github.com/Husky-Quantitative-Group/hqg-backtester/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLog := logger.New(logger.Config{Level: "error"})
		errLog.Fatal().Err(err).Msg("Configuration error")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
		Dir:    cfg.LogDir,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("cache_dir", cfg.DataCacheDir).
		Int("max_concurrent", cfg.MaxConcurrentBacktests).
		Bool("auth", cfg.JWKSURL != "").
		Msg("Starting backtester")

	cache := marketdata.NewCache(cfg.DataCacheDir, log)
	upstream := marketdata.NewYahooClient(log)
	provider := marketdata.NewProvider(cache, upstream, log)

	janitor := marketdata.NewJanitor(cache, log)
	if err := janitor.Start(cfg.CacheWipeSchedule); err != nil {
		log.Fatal().Err(err).Msg("Invalid cache wipe schedule")
	}
	defer janitor.Stop()

	executor := sandbox.NewExecutor(
		cfg.SandboxBin,
		time.Duration(cfg.MaxExecutionTime)*time.Second,
		cfg.Profile,
		log,
	)
	metricsEngine := metrics.NewEngine(provider, log)
	orch := orchestrator.New(provider, executor, metricsEngine, int64(cfg.MaxConcurrentBacktests), log)

	sched := scheduler.New(orch, scheduler.DefaultQueueCapacity, log)
	schedCtx, stopSched := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(schedCtx)
	}()

	handlers := server.NewHandlers(sched, orch, cache, log)
	auth := server.NewAuthenticator(cfg.JWKSURL, log)
	limiter := server.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitPerHour)
	srv := server.New(cfg, handlers, auth, limiter, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	stopSched()
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Timed out waiting for running jobs")
	}

	log.Info().Msg("Shutdown complete")
}

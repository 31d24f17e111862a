package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/leottami/mindull-sub001/internal/api"
	"github.com/leottami/mindull-sub001/internal/config"
	"github.com/leottami/mindull-sub001/internal/conflict"
	"github.com/leottami/mindull-sub001/internal/db"
	"github.com/leottami/mindull-sub001/internal/executor"
	"github.com/leottami/mindull-sub001/internal/metrics"
	"github.com/leottami/mindull-sub001/internal/netmon"
	"github.com/leottami/mindull-sub001/internal/outbox"
	"github.com/leottami/mindull-sub001/internal/ratelimit"
	"github.com/leottami/mindull-sub001/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- durable store ----
	ctx := context.Background()
	var st store.Store
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("database migrations applied")
		st = store.NewPgStore(pool)

	case config.DriverFile:
		fs, err := store.NewFileStore(cfg.StorePath)
		if err != nil {
			logger.Fatal("failed to open outbox file", zap.Error(err))
		}
		st = fs
		logger.Info("file store opened", zap.String("path", cfg.StorePath))
	}

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry := executor.NewRegistry()
	for _, domainTag := range cfg.Domains {
		registry.Register(domainTag, executor.NewBackend(cfg.BackendBaseURL, domainTag, cfg.BackendTimeout))
	}
	logger.Info("executors registered", zap.Strings("domains", cfg.Domains))

	feed := conflict.NewFeed(64)
	defer feed.Close()

	monitor := netmon.New(cfg.StartOnline)

	onCompleted, onRetry, onFailed := m.ProcessorHooks()
	proc := outbox.New(st, registry, feed, monitor.Online, outbox.Config{
		BatchSize: cfg.BatchSize,
		Policy: outbox.Policy{
			Base:         cfg.BackoffBase,
			Max:          cfg.BackoffMax,
			AttemptLimit: cfg.AttemptLimit,
		},
		Limiter: ratelimit.New(cfg.RateLimit),
	}, logger, outbox.Hooks{
		OnCompleted: onCompleted,
		OnRetry:     onRetry,
		OnFailed:    onFailed,
	})
	defer proc.Close()

	// Items left in_flight by a crash go back to pending before anything
	// else runs.
	if err := proc.Recover(ctx); err != nil {
		logger.Fatal("failed to recover outbox", zap.Error(err))
	}

	// Context for all background goroutines; cancelled on shutdown signal.
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	// ---- network trigger ----
	monitor.OnChange(func(online bool) {
		if !online {
			logger.Info("connectivity lost: queueing locally")
			return
		}
		logger.Info("connectivity restored: draining")
		go func() {
			if err := proc.Drain(bgCtx); err != nil {
				logger.Error("drain after reconnect failed", zap.Error(err))
			}
		}()
	})

	// ---- conflict feed consumer (log + metrics only; the app UI
	// subscribes through its own channel) ----
	conflicts, unsubscribe := feed.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range conflicts {
			logger.Warn("sync conflict: remote wins",
				zap.String("item_id", ev.ItemID),
				zap.String("domain", ev.Domain),
				zap.Time("detected_at", ev.DetectedAt),
			)
		}
	}()

	// ---- pending depth gauge ----
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				if stats, err := proc.Stats(bgCtx); err == nil {
					m.PendingDepth.Set(float64(stats.Pending))
				}
			}
		}
	}()

	// Anything persisted before the last shutdown gets a first chance now.
	if monitor.Online() {
		go func() {
			if err := proc.Drain(bgCtx); err != nil {
				logger.Error("startup drain failed", zap.Error(err))
			}
		}()
	}

	// ---- HTTP server ----
	router := api.NewRouter(proc, monitor, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop background goroutines and cancel outstanding retry timers.
	// Pending items are durable; they drain on the next start.
	cancelBg()
	proc.Close()

	logger.Info("server stopped cleanly")
}

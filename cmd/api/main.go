package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/adapters"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/chains"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/handoff"
	apphttp "github.com/worldwideservice/ai-agent-platform-sub002/internal/http"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/http/router"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/scheduler"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/webhook"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/config"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/db"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/telemetry"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	shutdownTelemetry, err := telemetry.Init(ctx, cfg)
	if err != nil {
		log.Warn("telemetry disabled", "error", err)
	} else {
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	automation := adapters.NewAutomation(cfg, pool, log)

	fallback := scheduler.NewFallbackPool(automation.Processor, scheduler.FallbackOptions{
		Concurrency:   cfg.GetDispatchConcurrency(),
		RatePerSecond: cfg.GetDispatchRatePerSecond(),
		MaxAttempts:   cfg.GetDispatchMaxAttempts(),
	}, log)

	queueClient, closeQueue := initQueueClient(cfg, log)
	if closeQueue != nil {
		defer closeQueue()
	}

	var enqueuer scheduler.Enqueuer
	var queueHealth apphttp.HealthChecker
	if queueClient != nil {
		enqueuer = queueClient
		queueHealth = queueClient
	}
	dispatcher := scheduler.NewDispatcher(enqueuer, fallback, cfg.GetIngressAckTimeout(), log)

	val := validator.New()

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: db.NewPoolAdapter(pool),
		Queue:  queueHealth,
		Modules: []apphttp.Module{
			webhook.NewModule(dispatcher, cfg.GetIngressAckTimeout(), cfg.GetWebhookIPRate(), cfg.GetWebhookIPBurst(), log),
			handoff.NewModule(automation.Handoff, val),
			chains.NewModule(automation.Chains, val),
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		fallback.Shutdown(shutdownCtx)
		if pending := fallback.Pending(); pending > 0 {
			log.Warn("in-process jobs lost on shutdown", "pending", pending)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initQueueClient(cfg *config.Config, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; webhooks are processed in-process only")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg, cfg.GetDispatchMaxAttempts())
	if err != nil {
		log.Error("failed to initialize queue client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

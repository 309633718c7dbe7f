package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/adapters"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/scheduler"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/config"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/db"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg)
	if err != nil {
		log.Warn("telemetry disabled", "error", err)
	} else {
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

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

	automation := adapters.NewAutomation(cfg, pool, log)

	sweep := scheduler.NewChainSweep(automation.Chains, cfg.GetChainSweepInterval(), log)
	go sweep.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, cfg, automation.Processor, log)
	if err != nil {
		log.Error("failed to initialize webhook worker", "error", err)
		panic("failed to initialize webhook worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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

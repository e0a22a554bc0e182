package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/budgetguard/internal/app"
	"github.com/odyssey-erp/budgetguard/internal/notify"
	"github.com/odyssey-erp/budgetguard/internal/observability"
	"github.com/odyssey-erp/budgetguard/internal/platform/db"
	"github.com/odyssey-erp/budgetguard/internal/shared"
	"github.com/odyssey-erp/budgetguard/jobs"
)

const cleanupCron = "30 4 * * *"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	_ = godotenv.Load()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	sink, closeSink, err := deliverySink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	metrics := observability.NewMetrics()
	worker, err := buildWorker(cfg, logger, pool, sink, metrics)
	if err != nil {
		return err
	}

	stopMetrics := serveMetrics(cfg.WorkerMetricsAddr, metrics, logger)
	defer stopMetrics()

	logger.Info("worker starting",
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.String("reconcile_cron", cfg.ReconcileCron),
		slog.String("notify", cfg.NotifyBackend))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// deliverySink picks where queued domain events end up. Without a broker they
// are written to the structured log.
func deliverySink(cfg *app.Config, logger *slog.Logger) (notify.Notifier, func(), error) {
	if cfg.NotifyBackend != app.NotifyAMQP {
		return notify.LogNotifier{Logger: logger}, func() {}, nil
	}
	n, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	return n, func() {
		if err := n.Close(); err != nil {
			logger.Warn("amqp close", slog.Any("error", err))
		}
	}, nil
}

func buildWorker(cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool, sink notify.Notifier, metrics *observability.Metrics) (*jobs.Worker, error) {
	reconcile := jobs.NewReconcileJob(jobs.NewPgReconcileStore(pool), sink, logger, metrics.Jobs())
	cleanup := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics.Jobs())

	reconcileTask, err := jobs.NewReconcileTask()
	if err != nil {
		return nil, fmt.Errorf("reconcile task: %w", err)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		return nil, fmt.Errorf("cleanup task: %w", err)
	}

	retry := []asynq.Option{asynq.MaxRetry(3)}
	return jobs.NewWorker(jobs.WorkerOptions{
		Redis:       asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Routes: []jobs.Route{
			{Type: notify.TaskTypeDeliver, Handler: notify.DeliverHandler(sink)},
			{Type: jobs.TaskReconcile, Handler: reconcile.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle},
		},
		Schedules: []jobs.Schedule{
			{Spec: cfg.ReconcileCron, Task: reconcileTask, Options: retry},
			{Spec: cleanupCron, Task: cleanupTask, Options: retry},
		},
	})
}

// serveMetrics exposes the job collectors for scraping. An empty addr disables it.
func serveMetrics(addr string, metrics *observability.Metrics, logger *slog.Logger) func() {
	if addr == "" {
		return func() {}
	}
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics listener", slog.Any("error", err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

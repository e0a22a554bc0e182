package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/budgetguard/internal/budget"
	"github.com/odyssey-erp/budgetguard/internal/fx"
	"github.com/odyssey-erp/budgetguard/internal/invoices"
	"github.com/odyssey-erp/budgetguard/internal/ledger"
	"github.com/odyssey-erp/budgetguard/internal/notify"
	"github.com/odyssey-erp/budgetguard/internal/observability"
	"github.com/odyssey-erp/budgetguard/internal/periods"
	"github.com/odyssey-erp/budgetguard/internal/platform/cache"
	"github.com/odyssey-erp/budgetguard/internal/platform/db"
	"github.com/odyssey-erp/budgetguard/internal/procurement"
	"github.com/odyssey-erp/budgetguard/internal/shared"
	"github.com/odyssey-erp/budgetguard/jobs"
)

const testModeEnv = "BUDGETGUARD_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether the binaries should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	detectTestMode()
}

// rateCachePrefix namespaces the annual rate keys in Redis.
const rateCachePrefix = "budgetguard:fx"

// Runtime owns the long-lived connections and the wired services.
type Runtime struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics

	Rates       *fx.CachedRates
	Resolver    *fx.Resolver
	Calculator  *fx.Calculator
	FX          *fx.Service
	Periods     *periods.Service
	Budget      *budget.Service
	Ledger      *ledger.Service
	Orders      *procurement.Service
	Invoices    *invoices.Service
	Tracker     *procurement.ConsumptionTracker
	Idempotency *shared.IdempotencyStore
	Notifier    notify.Notifier
	Jobs        *jobs.Client

	closers []func() error
}

// Bootstrap connects to Postgres and Redis and wires every module.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			return nil, err
		}
		logger.Info("migrations applied")
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: logger, Pool: pool, Metrics: observability.NewMetrics()}
	rt.closers = append(rt.closers, func() error { pool.Close(); return nil })

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Redis = redisClient
	rt.closers = append(rt.closers, redisClient.Close)

	rt.Jobs = jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	rt.closers = append(rt.closers, rt.Jobs.Close)

	notifier, err := rt.buildNotifier()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Notifier = notifier

	audit := shared.NewAuditLogger(pool)
	rt.Idempotency = shared.NewIdempotencyStore(pool)

	rt.Rates = fx.NewCachedRates(fx.NewRepository(pool), cache.NewVersioned(redisClient, rateCachePrefix, cfg.RateCacheTTL), logger)
	rt.Resolver = fx.NewResolver(rt.Rates).WithMetrics(rt.Metrics)
	rt.Calculator = fx.NewCalculator(rt.Rates).WithMetrics(rt.Metrics)
	rt.FX = fx.NewService(rt.Rates, rt.Resolver, rt.Calculator, audit, logger)

	rt.Periods = periods.NewService(periods.NewRepository(pool), audit, logger)
	rt.Budget = budget.NewService(budget.NewRepository(pool), audit, logger)

	ledgerRepo := ledger.NewRepository(pool)
	guard := ledger.NewGuard(ledgerRepo, logger).WithMetrics(rt.Metrics)
	rt.Ledger = ledger.NewService(ledgerRepo, guard, rt.Resolver, rt.Idempotency, audit, notifier, logger)

	rt.Orders = procurement.NewService(procurement.NewRepository(pool), audit, notifier, logger)
	rt.Tracker = rt.Orders.Tracker().WithMetrics(rt.Metrics)
	rt.Invoices = invoices.NewService(invoices.NewRepository(pool), rt.Tracker, rt.Calculator, audit, notifier, logger)
	return rt, nil
}

func (rt *Runtime) buildNotifier() (notify.Notifier, error) {
	switch rt.Config.NotifyBackend {
	case NotifyAMQP:
		n, err := notify.DialAMQP(rt.Config.AMQPURL, rt.Config.AMQPExchange)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, n.Close)
		return n, nil
	case NotifyAsynq:
		if rt.Jobs == nil {
			return nil, fmt.Errorf("app: asynq notify backend requires a jobs client")
		}
		return notify.NewAsynqNotifier(rt.Jobs.Asynq(), jobs.QueueNotify), nil
	case NotifyNone:
		return notify.Nop{}, nil
	default:
		return nil, fmt.Errorf("app: unknown notify backend %q", rt.Config.NotifyBackend)
	}
}

// Router builds the HTTP handler over the wired services. inspector may be nil.
func (rt *Runtime) Router(inspector *asynq.Inspector) http.Handler {
	params := RouterParams{
		Logger:          rt.Logger,
		Config:          rt.Config,
		Metrics:         rt.Metrics,
		FXHandler:       fx.NewHandler(rt.Logger, rt.FX),
		PeriodsHandler:  periods.NewHandler(rt.Logger, rt.Periods),
		BudgetHandler:   budget.NewHandler(rt.Logger, rt.Budget),
		LedgerHandler:   ledger.NewHandler(rt.Logger, rt.Ledger),
		OrdersHandler:   procurement.NewHandler(rt.Logger, rt.Orders),
		InvoicesHandler: invoices.NewHandler(rt.Logger, rt.Invoices),
	}
	if rt.Pool != nil && rt.Redis != nil {
		params.Ready = rt.Ready
	}
	var queues jobs.QueueInspector
	if inspector != nil {
		queues = inspector
	}
	var enqueuer jobs.ReconcileEnqueuer
	if rt.Jobs != nil {
		enqueuer = rt.Jobs
	}
	if queues != nil || enqueuer != nil {
		params.JobHandler = jobs.NewHandler(queues, enqueuer, rt.Logger)
	}
	return NewRouter(params)
}

// Ready pings Postgres and Redis.
func (rt *Runtime) Ready(ctx context.Context) error {
	if err := rt.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := rt.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/budgetguard/internal/jobs"
	"github.com/odyssey-erp/budgetguard/internal/notify"
)

// Reconcile check kinds.
const (
	KindExecution   = "execution"
	KindConsumption = "consumption"
)

// ExecutionBreach is a (support, accounting period) scope executed past its allocation.
type ExecutionBreach struct {
	SupportID int64           `json:"supportId"`
	PeriodID  int64           `json:"periodId"`
	Allocated decimal.Decimal `json:"allocated"`
	Executed  decimal.Decimal `json:"executed"`
}

// ConsumptionBreach is a purchase order consumed past its authorization.
type ConsumptionBreach struct {
	OrderID    int64           `json:"orderId"`
	Authorized decimal.Decimal `json:"authorized"`
	Consumed   decimal.Decimal `json:"consumed"`
}

// ReconcileReport lists every breach found by one run.
type ReconcileReport struct {
	Execution   []ExecutionBreach   `json:"execution"`
	Consumption []ConsumptionBreach `json:"consumption"`
	CheckedAt   time.Time           `json:"checkedAt"`
}

// Breaches is the total number of findings.
func (r ReconcileReport) Breaches() int { return len(r.Execution) + len(r.Consumption) }

// ReconcileStore recomputes aggregates from storage.
type ReconcileStore interface {
	ExecutionBreaches(ctx context.Context) ([]ExecutionBreach, error)
	ConsumptionBreaches(ctx context.Context) ([]ConsumptionBreach, error)
}

// ReconcileJob recomputes execution per scope and consumption per order, and
// reports any ceiling found exceeded. The write paths already refuse breaches,
// so findings point at data changed outside the engine.
type ReconcileJob struct {
	Store    ReconcileStore
	Notifier notify.Notifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(store ReconcileStore, notifier notify.Notifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Store:    store,
		Notifier: notifier,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes a queued reconcile task.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.Kinds...)
	return err
}

// Run performs the checks concurrently, records metrics and publishes one
// reconcile.breach event per finding.
func (j *ReconcileJob) Run(ctx context.Context, kinds ...string) (ReconcileReport, error) {
	if j.Store == nil {
		return ReconcileReport{}, errors.New("reconcile: store not configured")
	}
	tracker := j.metrics().Track(TaskReconcile)
	logger := j.logger()
	report := ReconcileReport{CheckedAt: j.now()}

	g, gctx := errgroup.WithContext(ctx)
	if wants(kinds, KindExecution) {
		g.Go(func() error {
			found, err := j.Store.ExecutionBreaches(gctx)
			if err != nil {
				return fmt.Errorf("reconcile: execution: %w", err)
			}
			report.Execution = found
			return nil
		})
	}
	if wants(kinds, KindConsumption) {
		g.Go(func() error {
			found, err := j.Store.ConsumptionBreaches(gctx)
			if err != nil {
				return fmt.Errorf("reconcile: consumption: %w", err)
			}
			report.Consumption = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("reconcile failed", slog.Any("error", err))
		return ReconcileReport{}, tracker.End(err)
	}

	if wants(kinds, KindExecution) {
		j.metrics().SetBreaches(KindExecution, len(report.Execution))
	}
	if wants(kinds, KindConsumption) {
		j.metrics().SetBreaches(KindConsumption, len(report.Consumption))
	}
	for _, b := range report.Execution {
		logger.Warn("execution exceeds allocation",
			slog.Int64("support_id", b.SupportID),
			slog.Int64("period_id", b.PeriodID),
			slog.String("allocated", b.Allocated.StringFixed(2)),
			slog.String("executed", b.Executed.StringFixed(2)))
		notify.Dispatch(ctx, logger, j.Notifier, notify.NewEvent(notify.EventReconcileBreach, "budget_scope", b.SupportID, 0, map[string]any{
			"kind":      KindExecution,
			"periodId":  b.PeriodID,
			"allocated": b.Allocated.String(),
			"executed":  b.Executed.String(),
		}))
	}
	for _, b := range report.Consumption {
		logger.Warn("consumption exceeds authorization",
			slog.Int64("order_id", b.OrderID),
			slog.String("authorized", b.Authorized.StringFixed(2)),
			slog.String("consumed", b.Consumed.StringFixed(2)))
		notify.Dispatch(ctx, logger, j.Notifier, notify.NewEvent(notify.EventReconcileBreach, "purchase_order", b.OrderID, 0, map[string]any{
			"kind":       KindConsumption,
			"authorized": b.Authorized.String(),
			"consumed":   b.Consumed.String(),
		}))
	}
	logger.Info("reconcile completed",
		slog.Int("execution_breaches", len(report.Execution)),
		slog.Int("consumption_breaches", len(report.Consumption)),
		slog.Duration("duration", time.Since(report.CheckedAt)))
	return report, tracker.End(nil)
}

func wants(kinds []string, kind string) bool {
	return len(kinds) == 0 || slices.Contains(kinds, kind)
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcile))
	}
	return slog.Default().With(slog.String("job", TaskReconcile))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// PgReconcileStore runs the reconcile aggregates on Postgres.
type PgReconcileStore struct {
	pool *pgxpool.Pool
}

// NewPgReconcileStore builds the store.
func NewPgReconcileStore(pool *pgxpool.Pool) *PgReconcileStore {
	return &PgReconcileStore{pool: pool}
}

func (s *PgReconcileStore) ExecutionBreaches(ctx context.Context) ([]ExecutionBreach, error) {
	rows, err := s.pool.Query(ctx, `WITH executed AS (
    SELECT support_id, accounting_period_id AS period_id, SUM(amount_local) AS amount
    FROM ledger_entries
    WHERE entry_type = 'PROVISION' OR (entry_type = 'EXPENSE' AND state = 'PROCESSED')
    GROUP BY support_id, accounting_period_id
), allocated AS (
    SELECT a.support_id, a.period_id, SUM(a.amount_local) AS amount
    FROM budget_allocations a
    JOIN budget_versions v ON v.id = a.version_id AND v.status = 'ACTIVE'
    GROUP BY a.support_id, a.period_id
)
SELECT e.support_id, e.period_id, COALESCE(al.amount, 0), e.amount
FROM executed e
JOIN budget_versions v ON v.status = 'ACTIVE'
LEFT JOIN allocated al ON al.support_id = e.support_id AND al.period_id = e.period_id
WHERE e.amount > COALESCE(al.amount, 0)
ORDER BY e.support_id, e.period_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ExecutionBreach, error) {
		var b ExecutionBreach
		err := row.Scan(&b.SupportID, &b.PeriodID, &b.Allocated, &b.Executed)
		return b, err
	})
}

func (s *PgReconcileStore) ConsumptionBreaches(ctx context.Context) ([]ConsumptionBreach, error) {
	rows, err := s.pool.Query(ctx, `SELECT o.id, o.authorized_amount, c.consumed
FROM purchase_orders o
JOIN (
    SELECT order_id, SUM(CASE WHEN doc_type = 'CHARGE' THEN amount ELSE -amount END) AS consumed
    FROM invoices
    WHERE order_id IS NOT NULL AND status <> 'CANCELLED'
    GROUP BY order_id
) c ON c.order_id = o.id
WHERE c.consumed > o.authorized_amount
ORDER BY o.id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ConsumptionBreach, error) {
		var b ConsumptionBreach
		err := row.Scan(&b.OrderID, &b.Authorized, &b.Consumed)
		return b, err
	})
}

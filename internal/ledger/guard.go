package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/budget"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// GuardStore reads what the guard needs. Inside a write it must be bound to
// the same transaction that holds the scope lock.
type GuardStore interface {
	ActiveVersion(ctx context.Context) (budget.Version, bool, error)
	AllocatedAmount(ctx context.Context, versionID, periodID, supportID int64) (decimal.Decimal, error)
	ExecutedAmount(ctx context.Context, supportID, periodID int64) (decimal.Decimal, error)
}

// RejectionRecorder counts refused writes. *observability.Metrics satisfies it.
type RejectionRecorder interface {
	OverspendRejected(operation string)
}

// CheckInput describes a prospective change to executed spend.
type CheckInput struct {
	SupportID          int64           `json:"supportId"`
	AccountingPeriodID int64           `json:"accountingPeriodId"`
	Delta              decimal.Decimal `json:"delta"`
	AllowOverride      bool            `json:"allowOverride"`
	// Operation labels the rejection metric.
	Operation string `json:"-"`
}

// Guard refuses writes that would push executed spend past the budget.
type Guard struct {
	store   GuardStore
	logger  *slog.Logger
	metrics RejectionRecorder
}

// NewGuard builds a guard over store.
func NewGuard(store GuardStore, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, logger: logger}
}

// WithMetrics attaches a rejection recorder.
func (g *Guard) WithMetrics(m RejectionRecorder) *Guard {
	g.metrics = m
	return g
}

// Bind returns a copy of the guard reading through store.
func (g *Guard) Bind(store GuardStore) *Guard {
	cp := *g
	cp.store = store
	return &cp
}

// Position computes budget and execution of a scope. versionID is nil when no
// version is active.
func (g *Guard) Position(ctx context.Context, supportID, periodID int64) (ExecutionSummary, error) {
	summary := ExecutionSummary{SupportID: supportID, AccountingPeriodID: periodID}
	executed, err := g.store.ExecutedAmount(ctx, supportID, periodID)
	if err != nil {
		return summary, err
	}
	summary.Executed = executed
	version, ok, err := g.store.ActiveVersion(ctx)
	if err != nil {
		return summary, err
	}
	if ok {
		id := version.ID
		summary.VersionID = &id
		allocated, err := g.store.AllocatedAmount(ctx, version.ID, periodID, supportID)
		if err != nil {
			return summary, err
		}
		summary.Budget = allocated
	}
	summary.Available = summary.Budget.Sub(summary.Executed)
	return summary, nil
}

// CheckOverspend returns an OverspendError when executed + delta exceeds the
// budget and no override is requested. The rule holds for any sign of delta: a
// release that leaves an overspent scope still over budget needs the override.
// Without an active version every write is allowed.
func (g *Guard) CheckOverspend(ctx context.Context, in CheckInput) error {
	pos, err := g.Position(ctx, in.SupportID, in.AccountingPeriodID)
	if err != nil {
		return err
	}
	if pos.VersionID == nil {
		g.logger.Warn("no active budget version, overspend check skipped",
			slog.Int64("support_id", in.SupportID),
			slog.Int64("period_id", in.AccountingPeriodID))
		return nil
	}
	newExecuted := pos.Executed.Add(in.Delta)
	if !newExecuted.GreaterThan(pos.Budget) {
		return nil
	}
	if in.AllowOverride {
		g.logger.Info("overspend allowed by override",
			slog.Int64("support_id", in.SupportID),
			slog.Int64("period_id", in.AccountingPeriodID),
			slog.String("available", pos.Available.StringFixed(2)),
			slog.String("attempted", in.Delta.StringFixed(2)),
			slog.Int64("actor_id", shared.ActorID(ctx)))
		return nil
	}
	if g.metrics != nil {
		g.metrics.OverspendRejected(in.Operation)
	}
	return &shared.OverspendError{
		SupportID: in.SupportID,
		PeriodID:  in.AccountingPeriodID,
		Available: pos.Available.Round(2),
		Attempted: in.Delta.Round(2),
	}
}

package ledger

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/budgetguard/internal/shared"
)

func TestGuardCheckOverspend(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.seed(Entry{SupportID: 1, AccountingPeriodID: 1, Type: TypeExpense, State: StateProcessed, AmountLocal: decimal.NewFromInt(4000)})
	repo.seed(Entry{SupportID: 1, AccountingPeriodID: 1, Type: TypeProvision, State: StateProvisioned, AmountLocal: decimal.NewFromInt(800)})
	// Pending expenses and other scopes do not count.
	repo.seed(Entry{SupportID: 1, AccountingPeriodID: 1, Type: TypeExpense, State: StatePending, AmountLocal: decimal.NewFromInt(9000)})
	repo.seed(Entry{SupportID: 2, AccountingPeriodID: 1, Type: TypeProvision, State: StateProvisioned, AmountLocal: decimal.NewFromInt(9000)})

	rejections := &countingRejections{}
	guard := NewGuard(repo, slog.Default()).WithMetrics(rejections)
	ctx := context.Background()

	require.NoError(t, guard.CheckOverspend(ctx, CheckInput{SupportID: 1, AccountingPeriodID: 1, Delta: decimal.NewFromInt(150)}))
	require.NoError(t, guard.CheckOverspend(ctx, CheckInput{SupportID: 1, AccountingPeriodID: 1, Delta: decimal.NewFromInt(200)}))

	err := guard.CheckOverspend(ctx, CheckInput{SupportID: 1, AccountingPeriodID: 1, Delta: decimal.NewFromInt(300), Operation: "check"})
	var overspend *shared.OverspendError
	require.True(t, errors.As(err, &overspend))
	require.Equal(t, "200.00", overspend.Available.StringFixed(2))
	require.Equal(t, "300.00", overspend.Attempted.StringFixed(2))
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, []string{"check"}, rejections.ops)

	require.NoError(t, guard.CheckOverspend(ctx, CheckInput{SupportID: 1, AccountingPeriodID: 1, Delta: decimal.NewFromInt(300), AllowOverride: true}))
}

func TestGuardReleaseInOverspentScope(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.seed(Entry{SupportID: 1, AccountingPeriodID: 1, Type: TypeProvision, State: StateProvisioned, AmountLocal: decimal.NewFromInt(6000)})
	guard := NewGuard(repo, nil)
	ctx := context.Background()

	err := guard.CheckOverspend(ctx, CheckInput{SupportID: 1, AccountingPeriodID: 1, Delta: decimal.NewFromInt(-100)})
	var overspend *shared.OverspendError
	require.ErrorAs(t, err, &overspend)
	require.Equal(t, "-1000.00", overspend.Available.StringFixed(2))
	require.Equal(t, "-100.00", overspend.Attempted.StringFixed(2))

	require.Error(t, guard.CheckOverspend(ctx, CheckInput{SupportID: 1, AccountingPeriodID: 1, Delta: decimal.Zero}))
	require.NoError(t, guard.CheckOverspend(ctx, CheckInput{SupportID: 1, AccountingPeriodID: 1, Delta: decimal.NewFromInt(-100), AllowOverride: true}))
	require.NoError(t, guard.CheckOverspend(ctx, CheckInput{SupportID: 1, AccountingPeriodID: 1, Delta: decimal.NewFromInt(-1000)}))
}

func TestGuardAllowsWithoutActiveVersion(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.activeVersion = false
	guard := NewGuard(repo, nil)

	require.NoError(t, guard.CheckOverspend(context.Background(), CheckInput{SupportID: 1, AccountingPeriodID: 1, Delta: decimal.NewFromInt(1_000_000)}))

	pos, err := guard.Position(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Nil(t, pos.VersionID)
	require.True(t, pos.Budget.IsZero())
}

func TestGuardMissingAllocationMeansZeroBudget(t *testing.T) {
	repo := newMemoryLedgerRepo()
	guard := NewGuard(repo, nil)

	err := guard.CheckOverspend(context.Background(), CheckInput{SupportID: 2, AccountingPeriodID: 1, Delta: decimal.RequireFromString("0.01")})
	var overspend *shared.OverspendError
	require.ErrorAs(t, err, &overspend)
	require.True(t, overspend.Available.IsZero())
}

func TestEntryContributionAndTransitions(t *testing.T) {
	expense := Entry{SupportID: 1, AccountingPeriodID: 1, Type: TypeExpense, State: StatePending, AmountLocal: decimal.NewFromInt(10)}
	require.True(t, expense.Contribution(1, 1).IsZero())
	expense.State = StateProcessed
	require.Equal(t, "10", expense.Contribution(1, 1).String())
	require.True(t, expense.Contribution(1, 2).IsZero())

	release := Entry{SupportID: 1, AccountingPeriodID: 1, Type: TypeProvision, State: StateProvisioned, AmountLocal: decimal.NewFromInt(-40)}
	require.Equal(t, "-40", release.Contribution(1, 1).String())

	require.NoError(t, ValidateTransition(StatePending, StateProcessed))
	require.NoError(t, ValidateTransition(StatePending, StateProvisioned))
	require.ErrorIs(t, ValidateTransition(StateProcessed, StateProvisioned), ErrInvalidTransition)
	require.ErrorIs(t, ValidateTransition(StateProvisioned, StateProcessed), ErrInvalidTransition)
}

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/budget"
	"github.com/odyssey-erp/budgetguard/internal/masterdata"
	"github.com/odyssey-erp/budgetguard/internal/periods"
	"github.com/odyssey-erp/budgetguard/internal/platform/db"
	"github.com/odyssey-erp/budgetguard/internal/procurement"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, id int64) (Entry, error)
	ListEntries(ctx context.Context, filter ListFilter) ([]Entry, error)
	GuardStore
}

// TxRepository exposes the operations of one locked write.
type TxRepository interface {
	masterdata.Lookup
	GuardStore
	// LockScope serializes writers of one (support, accounting period) scope.
	LockScope(ctx context.Context, supportID, periodID int64) error
	LockPeriod(ctx context.Context, id int64) (periods.Period, error)
	OrderRange(ctx context.Context, orderID int64) (procurement.OrderScope, error)
	GetEntry(ctx context.Context, id int64, forUpdate bool) (Entry, error)
	InsertEntry(ctx context.Context, e Entry) (Entry, error)
	UpdateEntry(ctx context.Context, e Entry) (Entry, error)
}

// ListFilter narrows entry listings.
type ListFilter struct {
	SupportID          int64
	AccountingPeriodID int64
	Limit              int
}

// ExecutedAmount sums the execution of one scope: processed expenses plus every provision.
func ExecutedAmount(ctx context.Context, q budget.Querier, supportID, periodID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(amount_local), 0) FROM ledger_entries
WHERE support_id = $1 AND accounting_period_id = $2
  AND (entry_type = 'PROVISION' OR (entry_type = 'EXPENSE' AND state = 'PROCESSED'))`, supportID, periodID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: executed amount: %w", err)
	}
	return total, nil
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	*masterdata.Repository
	tx pgx.Tx
}

// WithTx runs fn in a read-committed transaction so reads after LockScope see
// rows committed by the writer that held the lock before.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.LockingTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{Repository: masterdata.NewRepository(tx), tx: tx})
	})
}

func (r *Repository) GetEntry(ctx context.Context, id int64) (Entry, error) {
	return loadEntry(ctx, r.pool, id, false)
}

func (r *Repository) ListEntries(ctx context.Context, f ListFilter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, selectEntry+`
WHERE ($1 = 0 OR support_id = $1) AND ($2 = 0 OR accounting_period_id = $2)
ORDER BY id DESC LIMIT $3`, f.SupportID, f.AccountingPeriodID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) ActiveVersion(ctx context.Context) (budget.Version, bool, error) {
	return budget.LoadActiveVersion(ctx, r.pool)
}

func (r *Repository) AllocatedAmount(ctx context.Context, versionID, periodID, supportID int64) (decimal.Decimal, error) {
	return budget.AllocatedAmount(ctx, r.pool, versionID, periodID, supportID)
}

func (r *Repository) ExecutedAmount(ctx context.Context, supportID, periodID int64) (decimal.Decimal, error) {
	return ExecutedAmount(ctx, r.pool, supportID, periodID)
}

func (t *txRepo) LockScope(ctx context.Context, supportID, periodID int64) error {
	return db.AdvisoryXactLock(ctx, t.tx, shared.ExecutionLockKey(supportID, periodID))
}

func (t *txRepo) LockPeriod(ctx context.Context, id int64) (periods.Period, error) {
	return periods.Load(ctx, t.tx, id, true)
}

func (t *txRepo) OrderRange(ctx context.Context, orderID int64) (procurement.OrderScope, error) {
	return procurement.LoadOrderScope(ctx, t.tx, orderID, false)
}

func (t *txRepo) ActiveVersion(ctx context.Context) (budget.Version, bool, error) {
	return budget.LoadActiveVersion(ctx, t.tx)
}

func (t *txRepo) AllocatedAmount(ctx context.Context, versionID, periodID, supportID int64) (decimal.Decimal, error) {
	return budget.AllocatedAmount(ctx, t.tx, versionID, periodID, supportID)
}

func (t *txRepo) ExecutedAmount(ctx context.Context, supportID, periodID int64) (decimal.Decimal, error) {
	return ExecutedAmount(ctx, t.tx, supportID, periodID)
}

func (t *txRepo) GetEntry(ctx context.Context, id int64, forUpdate bool) (Entry, error) {
	return loadEntry(ctx, t.tx, id, forUpdate)
}

func (t *txRepo) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO ledger_entries (support_id, order_id, entry_type, state, period_id, accounting_period_id,
    currency, amount_foreign, fx_rate_provisional, fx_rate_final, amount_local, description, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, 0))
RETURNING id, created_at, updated_at`,
		e.SupportID, e.OrderID, e.Type, e.State, e.PeriodID, e.AccountingPeriodID,
		e.Currency, e.AmountForeign, e.FXRateProvisional, e.FXRateFinal, e.AmountLocal, e.Description, actorOrZero(e.CreatedBy)).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return e, nil
}

func (t *txRepo) UpdateEntry(ctx context.Context, e Entry) (Entry, error) {
	err := t.tx.QueryRow(ctx, `UPDATE ledger_entries
SET state = $2, accounting_period_id = $3, fx_rate_final = $4, amount_local = $5, updated_at = NOW()
WHERE id = $1 RETURNING updated_at`, e.ID, e.State, e.AccountingPeriodID, e.FXRateFinal, e.AmountLocal).
		Scan(&e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, &shared.NotFoundError{Entity: "ledger entry", ID: e.ID}
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: update entry: %w", err)
	}
	return e, nil
}

const selectEntry = `SELECT id, support_id, order_id, entry_type, state, period_id, accounting_period_id, currency,
    amount_foreign, fx_rate_provisional, fx_rate_final, amount_local, description, created_by, created_at, updated_at
FROM ledger_entries`

func loadEntry(ctx context.Context, q budget.Querier, id int64, forUpdate bool) (Entry, error) {
	sql := selectEntry + ` WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	e, err := scanEntry(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, &shared.NotFoundError{Entity: "ledger entry", ID: id}
	}
	return e, err
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.SupportID, &e.OrderID, &e.Type, &e.State, &e.PeriodID, &e.AccountingPeriodID, &e.Currency,
		&e.AmountForeign, &e.FXRateProvisional, &e.FXRateFinal, &e.AmountLocal, &e.Description, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func actorOrZero(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

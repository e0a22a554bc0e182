package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/masterdata"
	"github.com/odyssey-erp/budgetguard/internal/periods"
	"github.com/odyssey-erp/budgetguard/internal/platform/db"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// LoadActiveVersion returns the ACTIVE version; found is false when none is active.
func LoadActiveVersion(ctx context.Context, q Querier) (Version, bool, error) {
	var v Version
	err := q.QueryRow(ctx, `SELECT id, name, status, created_at FROM budget_versions WHERE status = 'ACTIVE'`).
		Scan(&v.ID, &v.Name, &v.Status, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, false, nil
	}
	if err != nil {
		return Version{}, false, fmt.Errorf("budget: load active version: %w", err)
	}
	return v, true, nil
}

// AllocatedAmount computes SelectBudget in SQL for one scope.
func AllocatedAmount(ctx context.Context, q Querier, versionID, periodID, supportID int64) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := q.QueryRow(ctx, `SELECT COALESCE(
    (SELECT amount_local FROM budget_allocations
      WHERE version_id = $1 AND period_id = $2 AND support_id = $3 AND cost_center_id IS NULL),
    (SELECT SUM(amount_local) FROM budget_allocations
      WHERE version_id = $1 AND period_id = $2 AND support_id = $3 AND cost_center_id IS NOT NULL),
    0)`, versionID, periodID, supportID).Scan(&amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("budget: allocated amount: %w", err)
	}
	return amount, nil
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListVersions(ctx context.Context) ([]Version, error)
	ListAllocations(ctx context.Context, versionID, periodID int64) ([]Allocation, error)
	ActiveVersion(ctx context.Context) (Version, bool, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	masterdata.Lookup
	GetVersion(ctx context.Context, id int64, forUpdate bool) (Version, error)
	ActiveVersion(ctx context.Context) (Version, bool, error)
	CreateVersion(ctx context.Context, name string, status VersionStatus) (Version, error)
	ArchiveActiveExcept(ctx context.Context, id int64) error
	SetVersionStatus(ctx context.Context, id int64, status VersionStatus) error
	LockPeriod(ctx context.Context, id int64) (periods.Period, error)
	UpsertAllocation(ctx context.Context, a Allocation) (Allocation, error)
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

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{Repository: masterdata.NewRepository(tx), tx: tx})
	})
}

func (r *Repository) ListVersions(ctx context.Context) ([]Version, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, status, created_at FROM budget_versions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("budget: list versions: %w", err)
	}
	defer rows.Close()
	var out []Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.Name, &v.Status, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *Repository) ActiveVersion(ctx context.Context) (Version, bool, error) {
	return LoadActiveVersion(ctx, r.pool)
}

func (r *Repository) ListAllocations(ctx context.Context, versionID, periodID int64) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, version_id, period_id, support_id, cost_center_id, amount_local, updated_at
FROM budget_allocations WHERE version_id = $1 AND period_id = $2 ORDER BY support_id, cost_center_id NULLS FIRST`, versionID, periodID)
	if err != nil {
		return nil, fmt.Errorf("budget: list allocations: %w", err)
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.VersionID, &a.PeriodID, &a.SupportID, &a.CostCenterID, &a.AmountLocal, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *txRepo) GetVersion(ctx context.Context, id int64, forUpdate bool) (Version, error) {
	sql := `SELECT id, name, status, created_at FROM budget_versions WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var v Version
	err := t.tx.QueryRow(ctx, sql, id).Scan(&v.ID, &v.Name, &v.Status, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, &shared.NotFoundError{Entity: "budget version", ID: id}
	}
	if err != nil {
		return Version{}, fmt.Errorf("budget: get version: %w", err)
	}
	return v, nil
}

func (t *txRepo) ActiveVersion(ctx context.Context) (Version, bool, error) {
	return LoadActiveVersion(ctx, t.tx)
}

func (t *txRepo) CreateVersion(ctx context.Context, name string, status VersionStatus) (Version, error) {
	v := Version{Name: name, Status: status}
	err := t.tx.QueryRow(ctx, `INSERT INTO budget_versions (name, status) VALUES ($1, $2) RETURNING id, created_at`, name, status).
		Scan(&v.ID, &v.CreatedAt)
	if shared.IsUniqueViolation(err) {
		return Version{}, fmt.Errorf("%w: another version is already active", shared.ErrConflict)
	}
	if err != nil {
		return Version{}, fmt.Errorf("budget: create version: %w", err)
	}
	return v, nil
}

func (t *txRepo) ArchiveActiveExcept(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE budget_versions SET status = 'ARCHIVED' WHERE status = 'ACTIVE' AND id <> $1`, id)
	if err != nil {
		return fmt.Errorf("budget: archive active: %w", err)
	}
	return nil
}

func (t *txRepo) SetVersionStatus(ctx context.Context, id int64, status VersionStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE budget_versions SET status = $2 WHERE id = $1`, id, status)
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("%w: another version is already active", shared.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("budget: set version status: %w", err)
	}
	return nil
}

func (t *txRepo) LockPeriod(ctx context.Context, id int64) (periods.Period, error) {
	return periods.Load(ctx, t.tx, id, true)
}

const upsertSimple = `INSERT INTO budget_allocations (version_id, period_id, support_id, cost_center_id, amount_local, updated_at)
VALUES ($1, $2, $3, NULL, $4, NOW())
ON CONFLICT (version_id, period_id, support_id) WHERE cost_center_id IS NULL
DO UPDATE SET amount_local = EXCLUDED.amount_local, updated_at = EXCLUDED.updated_at
RETURNING id, updated_at`

const upsertDetailed = `INSERT INTO budget_allocations (version_id, period_id, support_id, cost_center_id, amount_local, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (version_id, period_id, support_id, cost_center_id) WHERE cost_center_id IS NOT NULL
DO UPDATE SET amount_local = EXCLUDED.amount_local, updated_at = EXCLUDED.updated_at
RETURNING id, updated_at`

func (t *txRepo) UpsertAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	var row pgx.Row
	if a.CostCenterID == nil {
		row = t.tx.QueryRow(ctx, upsertSimple, a.VersionID, a.PeriodID, a.SupportID, a.AmountLocal)
	} else {
		row = t.tx.QueryRow(ctx, upsertDetailed, a.VersionID, a.PeriodID, a.SupportID, *a.CostCenterID, a.AmountLocal)
	}
	if err := row.Scan(&a.ID, &a.UpdatedAt); err != nil {
		return Allocation{}, fmt.Errorf("budget: upsert allocation: %w", err)
	}
	return a, nil
}

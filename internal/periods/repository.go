package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx so other modules can read periods inside their own transactions.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const selectPeriod = `SELECT id, year, month, status, closed_at, closed_by FROM periods`

// Load reads one period. With forShare the row is locked against a concurrent close until the caller's transaction ends.
func Load(ctx context.Context, q Querier, id int64, forShare bool) (Period, error) {
	sql := selectPeriod + ` WHERE id = $1`
	if forShare {
		sql += ` FOR SHARE`
	}
	var p Period
	err := q.QueryRow(ctx, sql, id).Scan(&p.ID, &p.Year, &p.Month, &p.Status, &p.ClosedAt, &p.ClosedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, &shared.NotFoundError{Entity: "period", ID: id}
		}
		return Period{}, fmt.Errorf("periods: load %d: %w", id, err)
	}
	return p, nil
}

// LoadMany reads periods by id, keyed by id. Missing ids yield a NotFoundError.
func LoadMany(ctx context.Context, q Querier, ids []int64) (map[int64]Period, error) {
	out := make(map[int64]Period, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, selectPeriod+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("periods: load many: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.Year, &p.Month, &p.Status, &p.ClosedAt, &p.ClosedBy); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, &shared.NotFoundError{Entity: "period", ID: id}
		}
	}
	return out, nil
}

// Repository describes period persistence.
type Repository interface {
	Get(ctx context.Context, id int64) (Period, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]Period, error)
	List(ctx context.Context, year int) ([]Period, error)
	UpdateStatus(ctx context.Context, id int64, status Status, actorID int64, at time.Time) (Period, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	return Load(ctx, r.db, id, false)
}

func (r *repository) GetMany(ctx context.Context, ids []int64) (map[int64]Period, error) {
	return LoadMany(ctx, r.db, ids)
}

// List returns periods ordered by month; year 0 lists all.
func (r *repository) List(ctx context.Context, year int) ([]Period, error) {
	rows, err := r.db.Query(ctx, selectPeriod+` WHERE ($1 = 0 OR year = $1) ORDER BY year, month`, year)
	if err != nil {
		return nil, fmt.Errorf("periods: list: %w", err)
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.Year, &p.Month, &p.Status, &p.ClosedAt, &p.ClosedBy); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status Status, actorID int64, at time.Time) (Period, error) {
	var closedAt *time.Time
	var closedBy *int64
	if status == StatusClosed {
		closedAt = &at
		if actorID != 0 {
			closedBy = &actorID
		}
	}
	var p Period
	err := r.db.QueryRow(ctx, `UPDATE periods SET status = $2, closed_at = $3, closed_by = $4 WHERE id = $1
RETURNING id, year, month, status, closed_at, closed_by`, id, status, closedAt, closedBy).
		Scan(&p.ID, &p.Year, &p.Month, &p.Status, &p.ClosedAt, &p.ClosedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, &shared.NotFoundError{Entity: "period", ID: id}
		}
		return Period{}, fmt.Errorf("periods: update status: %w", err)
	}
	return p, nil
}

package fx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// RateSource reads the annual rate catalog. found is false when the year has no rate.
type RateSource interface {
	AnnualRate(ctx context.Context, year int) (rate decimal.Decimal, found bool, err error)
}

// RateStore is RateSource plus the admin operations.
type RateStore interface {
	RateSource
	ListAnnualRates(ctx context.Context) ([]AnnualRate, error)
	UpsertAnnualRate(ctx context.Context, year int, rate decimal.Decimal, actorID int64) (AnnualRate, error)
}

// Repository persists annual rates in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) AnnualRate(ctx context.Context, year int) (decimal.Decimal, bool, error) {
	var rate decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT rate FROM annual_exchange_rates WHERE year = $1`, year).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("fx: load annual rate %d: %w", year, err)
	}
	return rate, true, nil
}

func (r *Repository) ListAnnualRates(ctx context.Context) ([]AnnualRate, error) {
	rows, err := r.pool.Query(ctx, `SELECT year, rate, updated_at, updated_by FROM annual_exchange_rates ORDER BY year`)
	if err != nil {
		return nil, fmt.Errorf("fx: list annual rates: %w", err)
	}
	defer rows.Close()
	var out []AnnualRate
	for rows.Next() {
		var ar AnnualRate
		if err := rows.Scan(&ar.Year, &ar.Rate, &ar.UpdatedAt, &ar.UpdatedBy); err != nil {
			return nil, err
		}
		out = append(out, ar)
	}
	return out, rows.Err()
}

func (r *Repository) UpsertAnnualRate(ctx context.Context, year int, rate decimal.Decimal, actorID int64) (AnnualRate, error) {
	var ar AnnualRate
	err := r.pool.QueryRow(ctx, `INSERT INTO annual_exchange_rates (year, rate, updated_at, updated_by)
VALUES ($1, $2, NOW(), NULLIF($3, 0))
ON CONFLICT (year) DO UPDATE SET rate = EXCLUDED.rate, updated_at = EXCLUDED.updated_at, updated_by = EXCLUDED.updated_by
RETURNING year, rate, updated_at, updated_by`, year, rate, actorID).Scan(&ar.Year, &ar.Rate, &ar.UpdatedAt, &ar.UpdatedBy)
	if err != nil {
		return AnnualRate{}, fmt.Errorf("fx: upsert annual rate %d: %w", year, err)
	}
	return ar, nil
}

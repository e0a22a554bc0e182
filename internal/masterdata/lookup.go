// Package masterdata checks references to reference data owned elsewhere.
// The engine never writes supports, cost centers or vendors; it only verifies
// that ids supplied by callers exist.
package masterdata

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Lookup reports which of the given ids exist.
type Lookup interface {
	ExistingSupports(ctx context.Context, ids []int64) (map[int64]bool, error)
	ExistingCostCenters(ctx context.Context, ids []int64) (map[int64]bool, error)
	ExistingVendors(ctx context.Context, ids []int64) (map[int64]bool, error)
}

// Repository implements Lookup with Postgres.
type Repository struct {
	q Querier
}

// NewRepository builds a Lookup over q. Pass a pgx.Tx to read inside a transaction.
func NewRepository(q Querier) *Repository {
	return &Repository{q: q}
}

func (r *Repository) ExistingSupports(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return r.existing(ctx, `SELECT id FROM supports WHERE active AND id = ANY($1)`, ids)
}

func (r *Repository) ExistingCostCenters(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return r.existing(ctx, `SELECT id FROM cost_centers WHERE active AND id = ANY($1)`, ids)
}

func (r *Repository) ExistingVendors(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return r.existing(ctx, `SELECT id FROM vendors WHERE id = ANY($1)`, ids)
}

func (r *Repository) existing(ctx context.Context, sql string, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	rows, err := r.q.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("masterdata: lookup: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	return found, rows.Err()
}

// Static is an in-memory Lookup over fixed id sets.
type Static struct {
	Supports    map[int64]bool
	CostCenters map[int64]bool
	Vendors     map[int64]bool
}

// NewStatic builds a Static lookup.
func NewStatic(supports, costCenters, vendors []int64) *Static {
	return &Static{Supports: toSet(supports), CostCenters: toSet(costCenters), Vendors: toSet(vendors)}
}

func (s *Static) ExistingSupports(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return pick(s.Supports, ids), nil
}

func (s *Static) ExistingCostCenters(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return pick(s.CostCenters, ids), nil
}

func (s *Static) ExistingVendors(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return pick(s.Vendors, ids), nil
}

func toSet(ids []int64) map[int64]bool {
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func pick(set map[int64]bool, ids []int64) map[int64]bool {
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if set[id] {
			out[id] = true
		}
	}
	return out
}

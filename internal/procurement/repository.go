package procurement

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

const selectScope = `SELECT o.id, o.support_id, o.currency, o.authorized_amount, o.status,
    pf.year, pf.month, pt.year, pt.month
FROM purchase_orders o
JOIN periods pf ON pf.id = o.period_from_id
JOIN periods pt ON pt.id = o.period_to_id
WHERE o.id = $1`

// LoadOrderScope reads the limits of an order. forUpdate locks the order row
// so concurrent documents of the same order serialize.
func LoadOrderScope(ctx context.Context, q Querier, id int64, forUpdate bool) (OrderScope, error) {
	sql := selectScope
	if forUpdate {
		sql += ` FOR UPDATE OF o`
	}
	var s OrderScope
	err := q.QueryRow(ctx, sql, id).Scan(&s.ID, &s.SupportID, &s.Currency, &s.AuthorizedAmount, &s.Status,
		&s.Range.From.Year, &s.Range.From.Month, &s.Range.To.Year, &s.Range.To.Month)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderScope{}, &shared.NotFoundError{Entity: "purchase order", ID: id}
	}
	if err != nil {
		return OrderScope{}, fmt.Errorf("procurement: load order scope: %w", err)
	}
	return s, nil
}

// OrderConsumption computes consumption in SQL.
func OrderConsumption(ctx context.Context, q Querier, orderID int64, excludeDocumentID *int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN doc_type = 'CHARGE' THEN amount ELSE -amount END), 0)
FROM invoices
WHERE order_id = $1 AND status <> 'CANCELLED' AND ($2::BIGINT IS NULL OR id <> $2)`, orderID, excludeDocumentID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("procurement: order consumption: %w", err)
	}
	return total, nil
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error)
	ConsumptionStore
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	masterdata.Lookup
	ConsumptionStore
	LockPeriods(ctx context.Context, ids []int64) (map[int64]periods.Period, error)
	GetOrder(ctx context.Context, id int64, forUpdate bool) (PurchaseOrder, error)
	InsertOrder(ctx context.Context, o PurchaseOrder) (PurchaseOrder, error)
	UpdateOrder(ctx context.Context, o PurchaseOrder) (PurchaseOrder, error)
	ReplaceCostCenters(ctx context.Context, orderID int64, ids []int64) error
	AppendHistory(ctx context.Context, h HistoryEntry) error
	// LinkedPeriodSpan returns the earliest and latest months booked against the
	// order by live documents and ledger entries; ok is false when none exist.
	LinkedPeriodSpan(ctx context.Context, orderID int64) (periods.Range, bool, error)
}

// ListFilter narrows order listings.
type ListFilter struct {
	SupportID int64
	Status    POStatus
	Limit     int
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

// WithTx wraps callback in a read-committed transaction; order rows are locked explicitly.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.LockingTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{Repository: masterdata.NewRepository(tx), tx: tx})
	})
}

func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	o, err := loadOrder(ctx, r.pool, id, false)
	if err != nil {
		return PurchaseOrder{}, err
	}
	o.History, err = loadHistory(ctx, r.pool, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return o, nil
}

func (r *Repository) ListOrders(ctx context.Context, f ListFilter) ([]PurchaseOrder, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, selectOrder+`
WHERE ($1 = 0 OR o.support_id = $1) AND ($2 = '' OR o.status = $2)
ORDER BY o.id DESC LIMIT $3`, f.SupportID, string(f.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("procurement: list orders: %w", err)
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) OrderConsumption(ctx context.Context, orderID int64, excludeDocumentID *int64) (decimal.Decimal, error) {
	return OrderConsumption(ctx, r.pool, orderID, excludeDocumentID)
}

func (t *txRepo) OrderConsumption(ctx context.Context, orderID int64, excludeDocumentID *int64) (decimal.Decimal, error) {
	return OrderConsumption(ctx, t.tx, orderID, excludeDocumentID)
}

func (t *txRepo) LockPeriods(ctx context.Context, ids []int64) (map[int64]periods.Period, error) {
	out := make(map[int64]periods.Period, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		p, err := periods.Load(ctx, t.tx, id, true)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (t *txRepo) GetOrder(ctx context.Context, id int64, forUpdate bool) (PurchaseOrder, error) {
	return loadOrder(ctx, t.tx, id, forUpdate)
}

func (t *txRepo) InsertOrder(ctx context.Context, o PurchaseOrder) (PurchaseOrder, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, support_id, vendor_id, period_from_id, period_to_id, currency, authorized_amount, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at, updated_at`,
		o.Number, o.SupportID, o.VendorID, o.PeriodFromID, o.PeriodToID, o.Currency, o.AuthorizedAmount, o.Status).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if shared.IsUniqueViolation(err) {
		return PurchaseOrder{}, fmt.Errorf("%w: order number %s already exists", shared.ErrConflict, o.Number)
	}
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: insert order: %w", err)
	}
	return o, nil
}

func (t *txRepo) UpdateOrder(ctx context.Context, o PurchaseOrder) (PurchaseOrder, error) {
	err := t.tx.QueryRow(ctx, `UPDATE purchase_orders
SET vendor_id = $2, period_from_id = $3, period_to_id = $4, authorized_amount = $5, status = $6, updated_at = NOW()
WHERE id = $1 RETURNING updated_at`, o.ID, o.VendorID, o.PeriodFromID, o.PeriodToID, o.AuthorizedAmount, o.Status).
		Scan(&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, &shared.NotFoundError{Entity: "purchase order", ID: o.ID}
	}
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: update order: %w", err)
	}
	return o, nil
}

func (t *txRepo) ReplaceCostCenters(ctx context.Context, orderID int64, ids []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_cost_centers WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("procurement: clear cost centers: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_order_cost_centers (order_id, cost_center_id)
SELECT $1, unnest($2::BIGINT[])`, orderID, ids)
	if err != nil {
		return fmt.Errorf("procurement: insert cost centers: %w", err)
	}
	return nil
}

func (t *txRepo) AppendHistory(ctx context.Context, h HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_order_history (order_id, from_status, to_status, actor_id, note, at)
VALUES ($1, $2, $3, $4, $5, $6)`, h.OrderID, h.From, h.To, h.ActorID, h.Note, h.At)
	if err != nil {
		return fmt.Errorf("procurement: append history: %w", err)
	}
	return nil
}

func (t *txRepo) LinkedPeriodSpan(ctx context.Context, orderID int64) (periods.Range, bool, error) {
	var lo, hi *int
	err := t.tx.QueryRow(ctx, `SELECT MIN(k), MAX(k) FROM (
    SELECT p.year * 100 + p.month AS k
    FROM invoice_periods ip
    JOIN invoices i ON i.id = ip.invoice_id
    JOIN periods p ON p.id = ip.period_id
    WHERE i.order_id = $1 AND i.status <> 'CANCELLED'
    UNION ALL
    SELECT p.year * 100 + p.month
    FROM ledger_entries l
    JOIN periods p ON p.id = l.accounting_period_id
    WHERE l.order_id = $1
) linked`, orderID).Scan(&lo, &hi)
	if err != nil {
		return periods.Range{}, false, fmt.Errorf("procurement: linked period span: %w", err)
	}
	if lo == nil || hi == nil {
		return periods.Range{}, false, nil
	}
	return periods.Range{
		From: shared.YearMonth{Year: *lo / 100, Month: *lo % 100},
		To:   shared.YearMonth{Year: *hi / 100, Month: *hi % 100},
	}, true, nil
}

const selectOrder = `SELECT o.id, o.number, o.support_id, o.vendor_id, o.period_from_id, o.period_to_id,
    pf.year, pf.month, pt.year, pt.month, o.currency, o.authorized_amount, o.status, o.created_at, o.updated_at,
    COALESCE((SELECT array_agg(cost_center_id ORDER BY cost_center_id) FROM purchase_order_cost_centers c WHERE c.order_id = o.id), '{}')
FROM purchase_orders o
JOIN periods pf ON pf.id = o.period_from_id
JOIN periods pt ON pt.id = o.period_to_id`

func loadOrder(ctx context.Context, q Querier, id int64, forUpdate bool) (PurchaseOrder, error) {
	sql := selectOrder + ` WHERE o.id = $1`
	if forUpdate {
		sql += ` FOR UPDATE OF o`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, &shared.NotFoundError{Entity: "purchase order", ID: id}
	}
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: load order: %w", err)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var o PurchaseOrder
	err := row.Scan(&o.ID, &o.Number, &o.SupportID, &o.VendorID, &o.PeriodFromID, &o.PeriodToID,
		&o.Range.From.Year, &o.Range.From.Month, &o.Range.To.Year, &o.Range.To.Month,
		&o.Currency, &o.AuthorizedAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt, &o.CostCenterIDs)
	return o, err
}

func loadHistory(ctx context.Context, q Querier, orderID int64) ([]HistoryEntry, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, from_status, to_status, actor_id, note, at
FROM purchase_order_history WHERE order_id = $1 ORDER BY at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("procurement: load history: %w", err)
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.OrderID, &h.From, &h.To, &h.ActorID, &h.Note, &h.At); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

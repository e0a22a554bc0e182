package invoices

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
	"github.com/odyssey-erp/budgetguard/internal/procurement"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	masterdata.Lookup
	procurement.ConsumptionStore
	// LockOrder reads the order FOR UPDATE so documents of one order serialize.
	LockOrder(ctx context.Context, id int64) (procurement.OrderScope, error)
	OrderCostCenters(ctx context.Context, orderID int64) ([]int64, error)
	LockPeriods(ctx context.Context, ids []int64) (map[int64]periods.Period, error)
	PeriodByMonth(ctx context.Context, ym shared.YearMonth) (periods.Period, bool, error)
	GetInvoice(ctx context.Context, id int64, forUpdate bool) (Invoice, error)
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	ReplacePeriods(ctx context.Context, invoiceID int64, periodIDs []int64) error
	ReplaceSplits(ctx context.Context, invoiceID int64, splits []Split) error
	AppendHistory(ctx context.Context, h HistoryEntry) error
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	OrderID   int64
	SupportID int64
	Status    Status
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

// WithTx runs fn in a read-committed transaction so consumption read after
// LockOrder includes every document committed by the previous lock holder.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.LockingTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{Repository: masterdata.NewRepository(tx), tx: tx})
	})
}

func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := loadInvoice(ctx, r.pool, id, false)
	if err != nil {
		return Invoice{}, err
	}
	if err := loadChildren(ctx, r.pool, &inv); err != nil {
		return Invoice{}, err
	}
	inv.History, err = loadHistory(ctx, r.pool, id)
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (r *Repository) ListInvoices(ctx context.Context, f ListFilter) ([]Invoice, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, selectInvoice+`
WHERE ($1 = 0 OR order_id = $1) AND ($2 = 0 OR support_id = $2) AND ($3 = '' OR status = $3)
ORDER BY id DESC LIMIT $4`, f.OrderID, f.SupportID, string(f.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("invoices: list: %w", err)
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (t *txRepo) OrderConsumption(ctx context.Context, orderID int64, excludeDocumentID *int64) (decimal.Decimal, error) {
	return procurement.OrderConsumption(ctx, t.tx, orderID, excludeDocumentID)
}

func (t *txRepo) LockOrder(ctx context.Context, id int64) (procurement.OrderScope, error) {
	return procurement.LoadOrderScope(ctx, t.tx, id, true)
}

func (t *txRepo) OrderCostCenters(ctx context.Context, orderID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `SELECT cost_center_id FROM purchase_order_cost_centers WHERE order_id = $1 ORDER BY cost_center_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("invoices: order cost centers: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
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

func (t *txRepo) PeriodByMonth(ctx context.Context, ym shared.YearMonth) (periods.Period, bool, error) {
	var p periods.Period
	err := t.tx.QueryRow(ctx, `SELECT id, year, month, status, closed_at, closed_by FROM periods WHERE year = $1 AND month = $2 FOR SHARE`,
		ym.Year, ym.Month).Scan(&p.ID, &p.Year, &p.Month, &p.Status, &p.ClosedAt, &p.ClosedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return periods.Period{}, false, nil
	}
	if err != nil {
		return periods.Period{}, false, fmt.Errorf("invoices: period by month: %w", err)
	}
	return p, true, nil
}

func (t *txRepo) GetInvoice(ctx context.Context, id int64, forUpdate bool) (Invoice, error) {
	inv, err := loadInvoice(ctx, t.tx, id, forUpdate)
	if err != nil {
		return Invoice{}, err
	}
	if err := loadChildren(ctx, t.tx, &inv); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	c := inv.Columns
	err := t.tx.QueryRow(ctx, `INSERT INTO invoices (number, order_id, support_id, vendor_id, doc_type, currency, amount, rate_override,
    accounting_month, standard_rate, real_rate, amount_pen_standard, amount_pen_real, fx_variance, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING id, created_at, updated_at`,
		inv.Number, inv.OrderID, inv.SupportID, inv.VendorID, inv.DocType, inv.Currency, inv.Amount, inv.RateOverride,
		c.AccountingMonth, c.StandardRate, c.RealRate, c.AmountPENStandard, c.AmountPENReal, c.FXVariance, inv.Status).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: insert: %w", err)
	}
	return inv, nil
}

func (t *txRepo) UpdateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	c := inv.Columns
	err := t.tx.QueryRow(ctx, `UPDATE invoices
SET number = $2, order_id = $3, support_id = $4, vendor_id = $5, doc_type = $6, currency = $7, amount = $8, rate_override = $9,
    accounting_month = $10, standard_rate = $11, real_rate = $12, amount_pen_standard = $13, amount_pen_real = $14,
    fx_variance = $15, status = $16, updated_at = NOW()
WHERE id = $1 RETURNING updated_at`,
		inv.ID, inv.Number, inv.OrderID, inv.SupportID, inv.VendorID, inv.DocType, inv.Currency, inv.Amount, inv.RateOverride,
		c.AccountingMonth, c.StandardRate, c.RealRate, c.AmountPENStandard, c.AmountPENReal, c.FXVariance, inv.Status).
		Scan(&inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, &shared.NotFoundError{Entity: "invoice", ID: inv.ID}
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: update: %w", err)
	}
	return inv, nil
}

func (t *txRepo) ReplacePeriods(ctx context.Context, invoiceID int64, periodIDs []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM invoice_periods WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("invoices: clear periods: %w", err)
	}
	rows := make([][]any, len(periodIDs))
	for i, id := range periodIDs {
		rows[i] = []any{invoiceID, id, i}
	}
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"invoice_periods"}, []string{"invoice_id", "period_id", "position"}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("invoices: insert periods: %w", err)
	}
	return nil
}

func (t *txRepo) ReplaceSplits(ctx context.Context, invoiceID int64, splits []Split) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM invoice_cost_center_splits WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("invoices: clear splits: %w", err)
	}
	rows := make([][]any, len(splits))
	for i, s := range splits {
		rows[i] = []any{invoiceID, s.CostCenterID, s.Amount}
	}
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"invoice_cost_center_splits"}, []string{"invoice_id", "cost_center_id", "amount"}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("invoices: insert splits: %w", err)
	}
	return nil
}

func (t *txRepo) AppendHistory(ctx context.Context, h HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO invoice_history (invoice_id, from_status, to_status, actor_id, note, at)
VALUES ($1, $2, $3, $4, $5, $6)`, h.InvoiceID, h.From, h.To, h.ActorID, h.Note, h.At)
	if err != nil {
		return fmt.Errorf("invoices: append history: %w", err)
	}
	return nil
}

const selectInvoice = `SELECT id, number, order_id, support_id, vendor_id, doc_type, currency, amount, rate_override,
    accounting_month, standard_rate, real_rate, amount_pen_standard, amount_pen_real, fx_variance, status, created_at, updated_at
FROM invoices`

func loadInvoice(ctx context.Context, q procurement.Querier, id int64, forUpdate bool) (Invoice, error) {
	sql := selectInvoice + ` WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, &shared.NotFoundError{Entity: "invoice", ID: id}
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: load: %w", err)
	}
	return inv, nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	c := &inv.Columns
	err := row.Scan(&inv.ID, &inv.Number, &inv.OrderID, &inv.SupportID, &inv.VendorID, &inv.DocType, &inv.Currency, &inv.Amount,
		&inv.RateOverride, &c.AccountingMonth, &c.StandardRate, &c.RealRate, &c.AmountPENStandard, &c.AmountPENReal, &c.FXVariance,
		&inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func loadChildren(ctx context.Context, q procurement.Querier, inv *Invoice) error {
	rows, err := q.Query(ctx, `SELECT p.id, p.year, p.month FROM invoice_periods ip
JOIN periods p ON p.id = ip.period_id WHERE ip.invoice_id = $1 ORDER BY ip.position`, inv.ID)
	if err != nil {
		return fmt.Errorf("invoices: load periods: %w", err)
	}
	inv.PeriodIDs, inv.Periods = nil, nil
	for rows.Next() {
		var (
			id int64
			ym shared.YearMonth
		)
		if err := rows.Scan(&id, &ym.Year, &ym.Month); err != nil {
			rows.Close()
			return err
		}
		inv.PeriodIDs = append(inv.PeriodIDs, id)
		inv.Periods = append(inv.Periods, ym)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `SELECT cost_center_id, amount FROM invoice_cost_center_splits WHERE invoice_id = $1 ORDER BY cost_center_id`, inv.ID)
	if err != nil {
		return fmt.Errorf("invoices: load splits: %w", err)
	}
	inv.Splits, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Split, error) {
		var s Split
		err := row.Scan(&s.CostCenterID, &s.Amount)
		return s, err
	})
	return err
}

func loadHistory(ctx context.Context, q procurement.Querier, invoiceID int64) ([]HistoryEntry, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, from_status, to_status, actor_id, note, at
FROM invoice_history WHERE invoice_id = $1 ORDER BY at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoices: load history: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (HistoryEntry, error) {
		var h HistoryEntry
		err := row.Scan(&h.ID, &h.InvoiceID, &h.From, &h.To, &h.ActorID, &h.Note, &h.At)
		return h, err
	})
}

package invoices

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/masterdata"
	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/periods"
	"github.com/odyssey-erp/budgetguard/internal/procurement"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

type memoryInvoiceRepo struct {
	*masterdata.Static
	periods  map[int64]periods.Period
	orders   map[int64]procurement.OrderScope
	centers  map[int64][]int64
	invoices map[int64]Invoice
	history  []HistoryEntry
	locked   []int64
	nextID   int64
}

type memoryInvoiceTx struct {
	*memoryInvoiceRepo
}

func yearMonth(y, m int) shared.YearMonth { return shared.YearMonth{Year: y, Month: m} }

func newMemoryInvoiceRepo() *memoryInvoiceRepo {
	ps := make(map[int64]periods.Period)
	for m := 1; m <= 12; m++ {
		ps[int64(m)] = periods.Period{ID: int64(m), Year: 2026, Month: m, Status: periods.StatusOpen}
	}
	ps[12] = periods.Period{ID: 12, Year: 2026, Month: 12, Status: periods.StatusClosed}
	ps[13] = periods.Period{ID: 13, Year: 2027, Month: 1, Status: periods.StatusOpen}
	return &memoryInvoiceRepo{
		Static:  masterdata.NewStatic([]int64{1, 2}, []int64{10, 11, 12}, []int64{5}),
		periods: ps,
		orders: map[int64]procurement.OrderScope{
			7: {ID: 7, SupportID: 1, Currency: money.Local, AuthorizedAmount: decimal.NewFromInt(1000),
				Status: procurement.POStatusApproved, Range: periods.Range{From: yearMonth(2026, 1), To: yearMonth(2026, 3)}},
			8: {ID: 8, SupportID: 2, Currency: money.USD, AuthorizedAmount: decimal.NewFromInt(500),
				Status: procurement.POStatusApproved, Range: periods.Range{From: yearMonth(2026, 1), To: yearMonth(2026, 6)}},
			9: {ID: 9, SupportID: 1, Currency: money.Local, AuthorizedAmount: decimal.NewFromInt(1000),
				Status: procurement.POStatusClosed, Range: periods.Range{From: yearMonth(2026, 1), To: yearMonth(2026, 3)}},
		},
		centers:  map[int64][]int64{7: {10, 11}},
		invoices: make(map[int64]Invoice),
		nextID:   200,
	}
}

var memoryTxMu sync.Mutex

func (r *memoryInvoiceRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	memoryTxMu.Lock()
	defer memoryTxMu.Unlock()
	invoices := make(map[int64]Invoice, len(r.invoices))
	for k, v := range r.invoices {
		invoices[k] = v
	}
	history := append([]HistoryEntry(nil), r.history...)
	if err := fn(ctx, &memoryInvoiceTx{r}); err != nil {
		r.invoices = invoices
		r.history = history
		return err
	}
	return nil
}

func (r *memoryInvoiceRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, &shared.NotFoundError{Entity: "invoice", ID: id}
	}
	for _, h := range r.history {
		if h.InvoiceID == id {
			inv.History = append(inv.History, h)
		}
	}
	return inv, nil
}

func (r *memoryInvoiceRepo) ListInvoices(ctx context.Context, f ListFilter) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if f.OrderID != 0 && (inv.OrderID == nil || *inv.OrderID != f.OrderID) {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (r *memoryInvoiceRepo) OrderConsumption(ctx context.Context, orderID int64, exclude *int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, inv := range r.invoices {
		if inv.OrderID == nil || *inv.OrderID != orderID || inv.Status == StatusCancelled {
			continue
		}
		if exclude != nil && inv.ID == *exclude {
			continue
		}
		if inv.DocType == procurement.DocCharge {
			total = total.Add(inv.Amount)
		} else {
			total = total.Sub(inv.Amount)
		}
	}
	return total, nil
}

func (t *memoryInvoiceTx) LockOrder(ctx context.Context, id int64) (procurement.OrderScope, error) {
	o, ok := t.orders[id]
	if !ok {
		return procurement.OrderScope{}, &shared.NotFoundError{Entity: "purchase order", ID: id}
	}
	t.locked = append(t.locked, id)
	return o, nil
}

func (t *memoryInvoiceTx) OrderCostCenters(ctx context.Context, orderID int64) ([]int64, error) {
	return t.centers[orderID], nil
}

func (t *memoryInvoiceTx) LockPeriods(ctx context.Context, ids []int64) (map[int64]periods.Period, error) {
	out := make(map[int64]periods.Period)
	for _, id := range ids {
		p, ok := t.periods[id]
		if !ok {
			return nil, &shared.NotFoundError{Entity: "period", ID: id}
		}
		out[id] = p
	}
	return out, nil
}

func (t *memoryInvoiceTx) PeriodByMonth(ctx context.Context, ym shared.YearMonth) (periods.Period, bool, error) {
	for _, p := range t.periods {
		if p.YearMonth() == ym {
			return p, true, nil
		}
	}
	return periods.Period{}, false, nil
}

func (t *memoryInvoiceTx) GetInvoice(ctx context.Context, id int64, forUpdate bool) (Invoice, error) {
	inv, ok := t.invoices[id]
	if !ok {
		return Invoice{}, &shared.NotFoundError{Entity: "invoice", ID: id}
	}
	return inv, nil
}

func (t *memoryInvoiceTx) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	t.nextID++
	inv.ID = t.nextID
	t.invoices[inv.ID] = inv
	return inv, nil
}

func (t *memoryInvoiceTx) UpdateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	if _, ok := t.invoices[inv.ID]; !ok {
		return Invoice{}, &shared.NotFoundError{Entity: "invoice", ID: inv.ID}
	}
	t.invoices[inv.ID] = inv
	return inv, nil
}

func (t *memoryInvoiceTx) ReplacePeriods(ctx context.Context, invoiceID int64, ids []int64) error {
	inv := t.invoices[invoiceID]
	inv.PeriodIDs = ids
	t.invoices[invoiceID] = inv
	return nil
}

func (t *memoryInvoiceTx) ReplaceSplits(ctx context.Context, invoiceID int64, splits []Split) error {
	inv := t.invoices[invoiceID]
	inv.Splits = splits
	t.invoices[invoiceID] = inv
	return nil
}

func (t *memoryInvoiceTx) AppendHistory(ctx context.Context, h HistoryEntry) error {
	t.history = append(t.history, h)
	return nil
}

type countingCeiling struct {
	byType map[string]int
}

func (c *countingCeiling) OrderCeilingRejected(docType string) {
	if c.byType == nil {
		c.byType = make(map[string]int)
	}
	c.byType[docType]++
}

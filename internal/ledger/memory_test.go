package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/budget"
	"github.com/odyssey-erp/budgetguard/internal/masterdata"
	"github.com/odyssey-erp/budgetguard/internal/periods"
	"github.com/odyssey-erp/budgetguard/internal/procurement"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

type scopeKey struct{ support, period int64 }

type memoryLedgerRepo struct {
	*masterdata.Static
	activeVersion bool
	budgets       map[scopeKey]decimal.Decimal
	periods       map[int64]periods.Period
	orders        map[int64]procurement.OrderScope
	entries       map[int64]Entry
	nextID        int64
	locked        []scopeKey
	failInsertAt  int
	inserts       int
}

type memoryLedgerTx struct {
	*memoryLedgerRepo
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		Static:        masterdata.NewStatic([]int64{1, 2}, nil, nil),
		activeVersion: true,
		budgets: map[scopeKey]decimal.Decimal{
			{1, 1}: decimal.NewFromInt(5000),
		},
		periods: map[int64]periods.Period{
			1: {ID: 1, Year: 2026, Month: 1, Status: periods.StatusOpen},
			2: {ID: 2, Year: 2026, Month: 2, Status: periods.StatusOpen},
			3: {ID: 3, Year: 2026, Month: 3, Status: periods.StatusClosed},
			4: {ID: 4, Year: 2026, Month: 4, Status: periods.StatusOpen},
		},
		orders: map[int64]procurement.OrderScope{
			7: {ID: 7, Range: periods.Range{From: shared.YearMonth{Year: 2026, Month: 1}, To: shared.YearMonth{Year: 2026, Month: 3}}},
		},
		entries: make(map[int64]Entry),
		nextID:  100,
	}
}

// seed stores an entry directly.
func (r *memoryLedgerRepo) seed(e Entry) Entry {
	r.nextID++
	e.ID = r.nextID
	r.entries[e.ID] = e
	return e
}

func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	entries := make(map[int64]Entry, len(r.entries))
	for k, v := range r.entries {
		entries[k] = v
	}
	nextID := r.nextID
	if err := fn(ctx, &memoryLedgerTx{r}); err != nil {
		r.entries = entries
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *memoryLedgerRepo) GetEntry(ctx context.Context, id int64) (Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, &shared.NotFoundError{Entity: "ledger entry", ID: id}
	}
	return e, nil
}

func (r *memoryLedgerRepo) ListEntries(ctx context.Context, f ListFilter) ([]Entry, error) {
	var out []Entry
	for _, e := range r.entries {
		if (f.SupportID == 0 || e.SupportID == f.SupportID) && (f.AccountingPeriodID == 0 || e.AccountingPeriodID == f.AccountingPeriodID) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memoryLedgerRepo) ActiveVersion(ctx context.Context) (budget.Version, bool, error) {
	if !r.activeVersion {
		return budget.Version{}, false, nil
	}
	return budget.Version{ID: 1, Name: "base", Status: budget.VersionActive}, true, nil
}

func (r *memoryLedgerRepo) AllocatedAmount(ctx context.Context, versionID, periodID, supportID int64) (decimal.Decimal, error) {
	return r.budgets[scopeKey{supportID, periodID}], nil
}

func (r *memoryLedgerRepo) ExecutedAmount(ctx context.Context, supportID, periodID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range r.entries {
		total = total.Add(e.Contribution(supportID, periodID))
	}
	return total, nil
}

func (t *memoryLedgerTx) GetEntry(ctx context.Context, id int64, forUpdate bool) (Entry, error) {
	return t.memoryLedgerRepo.GetEntry(ctx, id)
}

func (t *memoryLedgerTx) LockScope(ctx context.Context, supportID, periodID int64) error {
	t.locked = append(t.locked, scopeKey{supportID, periodID})
	return nil
}

func (t *memoryLedgerTx) LockPeriod(ctx context.Context, id int64) (periods.Period, error) {
	p, ok := t.periods[id]
	if !ok {
		return periods.Period{}, &shared.NotFoundError{Entity: "period", ID: id}
	}
	return p, nil
}

func (t *memoryLedgerTx) OrderRange(ctx context.Context, orderID int64) (procurement.OrderScope, error) {
	o, ok := t.orders[orderID]
	if !ok {
		return procurement.OrderScope{}, &shared.NotFoundError{Entity: "purchase order", ID: orderID}
	}
	return o, nil
}

func (t *memoryLedgerTx) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	t.inserts++
	if t.failInsertAt > 0 && t.inserts == t.failInsertAt {
		return Entry{}, context.DeadlineExceeded
	}
	t.nextID++
	e.ID = t.nextID
	e.CreatedAt = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	e.UpdatedAt = e.CreatedAt
	t.entries[e.ID] = e
	return e, nil
}

func (t *memoryLedgerTx) UpdateEntry(ctx context.Context, e Entry) (Entry, error) {
	if _, ok := t.entries[e.ID]; !ok {
		return Entry{}, &shared.NotFoundError{Entity: "ledger entry", ID: e.ID}
	}
	t.entries[e.ID] = e
	return e, nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (m *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

type memoryClaims struct {
	claimed  map[string]bool
	released []string
}

func newMemoryClaims() *memoryClaims { return &memoryClaims{claimed: make(map[string]bool)} }

func (m *memoryClaims) Claim(ctx context.Context, key, module string) error {
	if m.claimed[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.claimed[module+"/"+key] = true
	return nil
}

func (m *memoryClaims) Release(ctx context.Context, key, module string) error {
	delete(m.claimed, module+"/"+key)
	m.released = append(m.released, key)
	return nil
}

type countingRejections struct {
	ops []string
}

func (c *countingRejections) OverspendRejected(op string) { c.ops = append(c.ops, op) }

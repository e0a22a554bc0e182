package budget

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/budgetguard/internal/masterdata"
	"github.com/odyssey-erp/budgetguard/internal/periods"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

type allocKey struct {
	version, period, support, costCenter int64
}

type memoryBudgetRepo struct {
	*masterdata.Static
	versions    map[int64]Version
	periods     map[int64]periods.Period
	allocations map[allocKey]Allocation
	nextID      int64
	failUpsert  int
	upserts     int
}

type memoryBudgetTx struct {
	*memoryBudgetRepo
}

func newMemoryBudgetRepo() *memoryBudgetRepo {
	return &memoryBudgetRepo{
		Static: masterdata.NewStatic([]int64{1, 2, 3}, []int64{10, 11}, nil),
		versions: map[int64]Version{
			100: {ID: 100, Name: "2026 base", Status: VersionActive},
			101: {ID: 101, Name: "2026 draft", Status: VersionArchived},
		},
		periods: map[int64]periods.Period{
			1: {ID: 1, Year: 2026, Month: 1, Status: periods.StatusOpen},
			2: {ID: 2, Year: 2026, Month: 2, Status: periods.StatusClosed},
		},
		allocations: make(map[allocKey]Allocation),
		nextID:      1000,
	}
}

func (r *memoryBudgetRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	versions := make(map[int64]Version, len(r.versions))
	for k, v := range r.versions {
		versions[k] = v
	}
	allocations := make(map[allocKey]Allocation, len(r.allocations))
	for k, v := range r.allocations {
		allocations[k] = v
	}
	if err := fn(ctx, &memoryBudgetTx{r}); err != nil {
		r.versions = versions
		r.allocations = allocations
		return err
	}
	return nil
}

func (r *memoryBudgetRepo) ListVersions(ctx context.Context) ([]Version, error) {
	var out []Version
	for _, v := range r.versions {
		out = append(out, v)
	}
	return out, nil
}

func (r *memoryBudgetRepo) ListAllocations(ctx context.Context, versionID, periodID int64) ([]Allocation, error) {
	var out []Allocation
	for k, a := range r.allocations {
		if k.version == versionID && k.period == periodID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryBudgetRepo) ActiveVersion(ctx context.Context) (Version, bool, error) {
	for _, v := range r.versions {
		if v.Status == VersionActive {
			return v, true, nil
		}
	}
	return Version{}, false, nil
}

func (t *memoryBudgetTx) GetVersion(ctx context.Context, id int64, forUpdate bool) (Version, error) {
	v, ok := t.versions[id]
	if !ok {
		return Version{}, &shared.NotFoundError{Entity: "budget version", ID: id}
	}
	return v, nil
}

func (t *memoryBudgetTx) CreateVersion(ctx context.Context, name string, status VersionStatus) (Version, error) {
	t.nextID++
	v := Version{ID: t.nextID, Name: name, Status: status}
	t.versions[v.ID] = v
	return v, nil
}

func (t *memoryBudgetTx) ArchiveActiveExcept(ctx context.Context, id int64) error {
	for k, v := range t.versions {
		if v.Status == VersionActive && k != id {
			v.Status = VersionArchived
			t.versions[k] = v
		}
	}
	return nil
}

func (t *memoryBudgetTx) SetVersionStatus(ctx context.Context, id int64, status VersionStatus) error {
	v := t.versions[id]
	v.Status = status
	t.versions[id] = v
	return nil
}

func (t *memoryBudgetTx) LockPeriod(ctx context.Context, id int64) (periods.Period, error) {
	p, ok := t.periods[id]
	if !ok {
		return periods.Period{}, &shared.NotFoundError{Entity: "period", ID: id}
	}
	return p, nil
}

func (t *memoryBudgetTx) UpsertAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	t.upserts++
	if t.failUpsert > 0 && t.upserts == t.failUpsert {
		return Allocation{}, errors.New("disk full")
	}
	key := allocKey{version: a.VersionID, period: a.PeriodID, support: a.SupportID}
	if a.CostCenterID != nil {
		key.costCenter = *a.CostCenterID
	}
	if existing, ok := t.allocations[key]; ok {
		a.ID = existing.ID
	} else {
		t.nextID++
		a.ID = t.nextID
	}
	t.allocations[key] = a
	return a, nil
}

func amt(raw string) decimal.Decimal { return decimal.RequireFromString(raw) }

func ptr(v int64) *int64 { return &v }

func requireField(t *testing.T, err error, field string) {
	t.Helper()
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, field, vErr.Field)
}

func TestUpsertBudgetBatchIsIdempotent(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, nil)
	in := BatchInput{PeriodID: 1, Items: []BatchItem{
		{SupportID: 1, AmountLocal: amt("5000")},
		{SupportID: 2, AmountLocal: amt("1200.50")},
	}}

	first, err := svc.UpsertBudgetBatch(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, first, 2)
	snapshot := make(map[allocKey]Allocation)
	for k, v := range repo.allocations {
		snapshot[k] = v
	}

	second, err := svc.UpsertBudgetBatch(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first[0].ID, second[0].ID)
	require.Equal(t, snapshot, repo.allocations)
	require.Equal(t, int64(100), second[0].VersionID)
}

func TestUpsertBudgetBatchRejectsMixedShapes(t *testing.T) {
	svc := NewService(newMemoryBudgetRepo(), nil, nil)
	_, err := svc.UpsertBudgetBatch(context.Background(), BatchInput{PeriodID: 1, Items: []BatchItem{
		{SupportID: 1, AmountLocal: amt("10")},
		{SupportID: 1, CostCenterID: ptr(10), AmountLocal: amt("10")},
	}})
	requireField(t, err, "items[1].costCenterId")
}

func TestUpsertBudgetBatchRejectsDuplicates(t *testing.T) {
	svc := NewService(newMemoryBudgetRepo(), nil, nil)
	_, err := svc.UpsertBudgetBatch(context.Background(), BatchInput{PeriodID: 1, Items: []BatchItem{
		{SupportID: 1, CostCenterID: ptr(10), AmountLocal: amt("10")},
		{SupportID: 1, CostCenterID: ptr(11), AmountLocal: amt("10")},
		{SupportID: 1, CostCenterID: ptr(10), AmountLocal: amt("20")},
	}})
	requireField(t, err, "items[2]")
}

func TestUpsertBudgetBatchChecksReferences(t *testing.T) {
	svc := NewService(newMemoryBudgetRepo(), nil, nil)
	ctx := context.Background()

	_, err := svc.UpsertBudgetBatch(ctx, BatchInput{PeriodID: 1, Items: []BatchItem{
		{SupportID: 1, AmountLocal: amt("10")},
		{SupportID: 2, AmountLocal: amt("10")},
		{SupportID: 99, AmountLocal: amt("10")},
	}})
	requireField(t, err, "items[2].supportId")

	_, err = svc.UpsertBudgetBatch(ctx, BatchInput{PeriodID: 1, Items: []BatchItem{
		{SupportID: 1, CostCenterID: ptr(77), AmountLocal: amt("10")},
	}})
	requireField(t, err, "items[0].costCenterId")

	_, err = svc.UpsertBudgetBatch(ctx, BatchInput{VersionID: ptr(555), PeriodID: 1, Items: []BatchItem{
		{SupportID: 1, AmountLocal: amt("10")},
	}})
	requireField(t, err, "versionId")

	_, err = svc.UpsertBudgetBatch(ctx, BatchInput{PeriodID: 42, Items: []BatchItem{
		{SupportID: 1, AmountLocal: amt("10")},
	}})
	requireField(t, err, "periodId")
}

func TestUpsertBudgetBatchRejectsClosedPeriod(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, nil)
	_, err := svc.UpsertBudgetBatch(context.Background(), BatchInput{PeriodID: 2, Items: []BatchItem{
		{SupportID: 1, AmountLocal: amt("10")},
	}})
	var closedErr *shared.ClosedPeriodError
	require.ErrorAs(t, err, &closedErr)
	require.Equal(t, "2026-02", closedErr.Label)
	require.Empty(t, repo.allocations)
}

func TestUpsertBudgetBatchIsAllOrNothing(t *testing.T) {
	repo := newMemoryBudgetRepo()
	repo.failUpsert = 2
	svc := NewService(repo, nil, nil)
	_, err := svc.UpsertBudgetBatch(context.Background(), BatchInput{PeriodID: 1, Items: []BatchItem{
		{SupportID: 1, AmountLocal: amt("10")},
		{SupportID: 2, AmountLocal: amt("10")},
	}})
	require.Error(t, err)
	require.Empty(t, repo.allocations)
}

func TestUpsertBudgetBatchWithoutActiveVersion(t *testing.T) {
	repo := newMemoryBudgetRepo()
	repo.versions[100] = Version{ID: 100, Status: VersionArchived}
	svc := NewService(repo, nil, nil)
	_, err := svc.UpsertBudgetBatch(context.Background(), BatchInput{PeriodID: 1, Items: []BatchItem{
		{SupportID: 1, AmountLocal: amt("10")},
	}})
	requireField(t, err, "versionId")
}

func TestActivateVersionKeepsSingleActive(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, nil)

	v, err := svc.ActivateVersion(context.Background(), 101)
	require.NoError(t, err)
	require.Equal(t, VersionActive, v.Status)
	require.Equal(t, VersionArchived, repo.versions[100].Status)

	created, err := svc.CreateVersion(context.Background(), "2026 forecast", true)
	require.NoError(t, err)
	active := 0
	for _, v := range repo.versions {
		if v.Status == VersionActive {
			active++
			require.Equal(t, created.ID, v.ID)
		}
	}
	require.Equal(t, 1, active)

	_, err = svc.ActivateVersion(context.Background(), 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSelectBudgetNeverMixesViews(t *testing.T) {
	cc := int64(10)
	cc2 := int64(11)
	rows := []Allocation{
		{CostCenterID: &cc, AmountLocal: amt("300")},
		{CostCenterID: &cc2, AmountLocal: amt("200")},
	}
	require.True(t, SelectBudget(rows).Equal(amt("500")))

	rows = append(rows, Allocation{AmountLocal: amt("1000")})
	require.True(t, SelectBudget(rows).Equal(amt("1000")))
	require.True(t, SelectBudget(nil).IsZero())
}

func TestUpsertBudgetBatchRejectsSubCentAmounts(t *testing.T) {
	repo := newMemoryBudgetRepo()
	svc := NewService(repo, nil, nil)
	_, err := svc.UpsertBudgetBatch(context.Background(), BatchInput{PeriodID: 1, Items: []BatchItem{
		{SupportID: 1, AmountLocal: amt("10.50")},
		{SupportID: 2, AmountLocal: amt("10.505")},
	}})
	requireField(t, err, "items[1].amountLocal")
	require.Empty(t, repo.allocations)
}

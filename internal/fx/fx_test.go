package fx

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

type memoryRates struct {
	mu    sync.Mutex
	rates map[int]decimal.Decimal
	reads int
}

func newMemoryRates(pairs map[int]string) *memoryRates {
	m := &memoryRates{rates: make(map[int]decimal.Decimal)}
	for year, raw := range pairs {
		m.rates[year] = decimal.RequireFromString(raw)
	}
	return m
}

func (m *memoryRates) AnnualRate(ctx context.Context, year int) (decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	rate, ok := m.rates[year]
	return rate, ok, nil
}

func (m *memoryRates) ListAnnualRates(ctx context.Context) ([]AnnualRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AnnualRate, 0, len(m.rates))
	for year, rate := range m.rates {
		out = append(out, AnnualRate{Year: year, Rate: rate})
	}
	return out, nil
}

func (m *memoryRates) UpsertAnnualRate(ctx context.Context, year int, rate decimal.Decimal, actorID int64) (AnnualRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[year] = rate
	return AnnualRate{Year: year, Rate: rate}, nil
}

func dec(raw string) decimal.Decimal { return decimal.RequireFromString(raw) }

func decPtr(raw string) *decimal.Decimal {
	d := dec(raw)
	return &d
}

func strPtr(s string) *string { return &s }

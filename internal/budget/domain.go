// Package budget stores budget versions and their per-period allocations.
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// VersionStatus enumerates version states. At most one version is ACTIVE.
type VersionStatus string

const (
	VersionActive   VersionStatus = "ACTIVE"
	VersionArchived VersionStatus = "ARCHIVED"
)

// Version is a named budget scenario.
type Version struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Status    VersionStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Allocation is the amount budgeted for a support in a period. A nil
// CostCenterID is the simple view; non-nil rows form the detailed view.
type Allocation struct {
	ID           int64           `json:"id"`
	VersionID    int64           `json:"versionId"`
	PeriodID     int64           `json:"periodId"`
	SupportID    int64           `json:"supportId"`
	CostCenterID *int64          `json:"costCenterId,omitempty"`
	AmountLocal  decimal.Decimal `json:"amountLocal"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// IsDetailed reports whether the row belongs to the detailed view.
func (a Allocation) IsDetailed() bool { return a.CostCenterID != nil }

// BatchItem is one row of an allocation batch.
type BatchItem struct {
	SupportID    int64
	CostCenterID *int64
	AmountLocal  decimal.Decimal
}

// BatchInput describes UpsertBudgetBatch. A nil VersionID targets the active version.
type BatchInput struct {
	VersionID *int64
	PeriodID  int64
	Items     []BatchItem
}

// SelectBudget returns the budget of one (version, period, support) scope: the
// simple row when present, otherwise the sum of detailed rows. The two views
// are never added together.
func SelectBudget(rows []Allocation) decimal.Decimal {
	detailed := decimal.Zero
	for _, row := range rows {
		if !row.IsDetailed() {
			return row.AmountLocal
		}
		detailed = detailed.Add(row.AmountLocal)
	}
	return detailed
}

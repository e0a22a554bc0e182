// Package ledger holds the budget execution control lines and the overspend guard.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// EntryType distinguishes actual expenses from provisions.
type EntryType string

const (
	TypeExpense   EntryType = "EXPENSE"
	TypeProvision EntryType = "PROVISION"
)

// State is the lifecycle state of an entry.
type State string

const (
	StatePending     State = "PENDING"
	StateProcessed   State = "PROCESSED"
	StateProvisioned State = "PROVISIONED"
)

// ErrInvalidTransition rejects state changes outside the lifecycle.
var ErrInvalidTransition = errors.New("ledger: invalid state transition")

// Entry is one control line.
type Entry struct {
	ID                 int64            `json:"id"`
	SupportID          int64            `json:"supportId"`
	OrderID            *int64           `json:"orderId,omitempty"`
	Type               EntryType        `json:"type"`
	State              State            `json:"state"`
	PeriodID           int64            `json:"periodId"`
	AccountingPeriodID int64            `json:"accountingPeriodId"`
	Currency           money.Currency   `json:"currency"`
	AmountForeign      *decimal.Decimal `json:"amountForeign,omitempty"`
	FXRateProvisional  decimal.Decimal  `json:"fxRateProvisional"`
	FXRateFinal        *decimal.Decimal `json:"fxRateFinal,omitempty"`
	AmountLocal        decimal.Decimal  `json:"amountLocal"`
	Description        string           `json:"description,omitempty"`
	CreatedBy          *int64           `json:"createdBy,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// Counts reports whether the entry is part of executed spend: any provision,
// or an expense once processed.
func (e Entry) Counts() bool {
	return e.Type == TypeProvision || (e.Type == TypeExpense && e.State == StateProcessed)
}

// Contribution is what the entry currently adds to the execution of the
// (support, accounting period) scope.
func (e Entry) Contribution(supportID, accountingPeriodID int64) decimal.Decimal {
	if e.SupportID != supportID || e.AccountingPeriodID != accountingPeriodID || !e.Counts() {
		return decimal.Zero
	}
	return e.AmountLocal
}

// ValidateTransition enforces PENDING -> PROCESSED | PROVISIONED.
func ValidateTransition(from, to State) error {
	if from == StatePending && (to == StateProcessed || to == StateProvisioned) {
		return nil
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// ParseEntryType validates a type name.
func ParseEntryType(raw string) (EntryType, error) {
	switch t := EntryType(raw); t {
	case TypeExpense, TypeProvision:
		return t, nil
	}
	return "", shared.NewValidationError("type", "must be EXPENSE or PROVISION")
}

// ExecutionSummary is the budget position of one scope.
type ExecutionSummary struct {
	SupportID          int64           `json:"supportId"`
	AccountingPeriodID int64           `json:"accountingPeriodId"`
	VersionID          *int64          `json:"versionId,omitempty"`
	Budget             decimal.Decimal `json:"budget"`
	Executed           decimal.Decimal `json:"executed"`
	Available          decimal.Decimal `json:"available"`
}

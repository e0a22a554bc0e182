// Package invoices manages monetary documents (charges and credit notes) booked
// against purchase orders or directly against a support.
package invoices

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/fx"
	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/procurement"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// Status is the document workflow status.
type Status string

const (
	StatusReceived     Status = "RECEIVED"
	StatusInApproval   Status = "IN_APPROVAL"
	StatusApproved     Status = "APPROVED"
	StatusInAccounting Status = "IN_ACCOUNTING"
	StatusAccounted    Status = "ACCOUNTED"
	StatusPaid         Status = "PAID"
	StatusCancelled    Status = "CANCELLED"
)

var sequence = []Status{StatusReceived, StatusInApproval, StatusApproved, StatusInAccounting, StatusAccounted, StatusPaid}

// ErrInvalidTransition rejects status changes outside the workflow.
var ErrInvalidTransition = errors.New("invoices: invalid status transition")

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusPaid || s == StatusCancelled }

// Editable reports whether amounts and references may still change.
func (s Status) Editable() bool {
	switch s {
	case StatusReceived, StatusInApproval, StatusApproved, StatusInAccounting:
		return true
	}
	return false
}

// ValidateTransition allows the next step of the sequence, or CANCELLED from
// any non-terminal status.
func ValidateTransition(from, to Status) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if to == StatusCancelled {
		return nil
	}
	for i := 0; i < len(sequence)-1; i++ {
		if sequence[i] == from && sequence[i+1] == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// Split assigns part of the document amount to a cost center.
type Split struct {
	CostCenterID int64           `json:"costCenterId" validate:"required,gt=0"`
	Amount       decimal.Decimal `json:"amount"`
}

// HistoryEntry is one immutable status change.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	InvoiceID int64     `json:"invoiceId"`
	From      *Status   `json:"from,omitempty"`
	To        Status    `json:"to"`
	ActorID   *int64    `json:"actorId,omitempty"`
	Note      string    `json:"note,omitempty"`
	At        time.Time `json:"at"`
}

// Invoice is a monetary document.
type Invoice struct {
	ID           int64               `json:"id"`
	Number       string              `json:"number"`
	OrderID      *int64              `json:"orderId,omitempty"`
	SupportID    *int64              `json:"supportId,omitempty"`
	VendorID     *int64              `json:"vendorId,omitempty"`
	DocType      procurement.DocType `json:"docType"`
	Currency     money.Currency      `json:"currency"`
	Amount       decimal.Decimal     `json:"amount"`
	RateOverride *decimal.Decimal    `json:"rateOverride,omitempty"`
	fx.Columns
	Status    Status             `json:"status"`
	PeriodIDs []int64            `json:"periodIds"`
	Periods   []shared.YearMonth `json:"periods"`
	Splits    []Split            `json:"costCenterSplits"`
	History   []HistoryEntry     `json:"history,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Fields rebuilds the FX variant from the stored columns.
func (i Invoice) Fields() (fx.AccountingFields, error) {
	return fx.FromColumns(i.Currency, i.Amount, i.Columns)
}

// splitScale matches the stored precision of split amounts.
const splitScale = 4

// ValidateSplits requires the splits, when present, to sum to amount within
// money.SplitTolerance, with positive amounts and no repeated cost center.
func ValidateSplits(amount decimal.Decimal, splits []Split) error {
	if len(splits) == 0 {
		return nil
	}
	seen := make(map[int64]int, len(splits))
	total := decimal.Zero
	for i, s := range splits {
		if s.CostCenterID <= 0 {
			return shared.NewValidationError(fmt.Sprintf("costCenterSplits[%d].costCenterId", i), "is required")
		}
		if first, ok := seen[s.CostCenterID]; ok {
			return shared.NewValidationError(fmt.Sprintf("costCenterSplits[%d].costCenterId", i), "duplicates costCenterSplits[%d]", first)
		}
		seen[s.CostCenterID] = i
		if !s.Amount.IsPositive() {
			return shared.NewValidationError(fmt.Sprintf("costCenterSplits[%d].amount", i), "must be positive")
		}
		if !money.HasScale(s.Amount, splitScale) {
			return shared.NewValidationError(fmt.Sprintf("costCenterSplits[%d].amount", i), "at most %d decimals allowed", splitScale)
		}
		total = total.Add(s.Amount)
	}
	if !money.WithinTolerance(total, amount) {
		return shared.NewValidationError("costCenterSplits", "splits sum to %s but the document amount is %s",
			total.String(), amount.String())
	}
	return nil
}

package procurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/periods"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// POStatus is the purchase order lifecycle status.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusApproval  POStatus = "APPROVAL"
	POStatusApproved  POStatus = "APPROVED"
	POStatusClosed    POStatus = "CLOSED"
	POStatusCancelled POStatus = "CANCELLED"
)

// DocType distinguishes documents that consume an order from those that give it back.
type DocType string

const (
	DocCharge     DocType = "CHARGE"
	DocCreditNote DocType = "CREDIT_NOTE"
)

// ParseDocType validates a document type name.
func ParseDocType(raw string) (DocType, error) {
	switch t := DocType(raw); t {
	case DocCharge, DocCreditNote:
		return t, nil
	}
	return "", shared.NewValidationError("docType", "must be CHARGE or CREDIT_NOTE")
}

// ErrInvalidState occurs when an action violates the status workflow.
var ErrInvalidState = errors.New("procurement: invalid state transition")

var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:    {POStatusApproval, POStatusCancelled},
	POStatusApproval: {POStatusApproved, POStatusDraft, POStatusCancelled},
	POStatusApproved: {POStatusClosed, POStatusCancelled},
}

// ValidateTransition checks a purchase order status change.
func ValidateTransition(from, to POStatus) error {
	for _, next := range poTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidState, from, to)
}

// AcceptsDocuments reports whether new documents may be booked against the order.
func (s POStatus) AcceptsDocuments() bool {
	return s != POStatusCancelled && s != POStatusClosed
}

// PurchaseOrder authorizes spend against a support over a span of months.
type PurchaseOrder struct {
	ID               int64           `json:"id"`
	Number           string          `json:"number"`
	SupportID        int64           `json:"supportId"`
	VendorID         *int64          `json:"vendorId,omitempty"`
	PeriodFromID     int64           `json:"periodFromId"`
	PeriodToID       int64           `json:"periodToId"`
	Range            periods.Range   `json:"range"`
	Currency         money.Currency  `json:"currency"`
	AuthorizedAmount decimal.Decimal `json:"authorizedAmount"`
	Status           POStatus        `json:"status"`
	CostCenterIDs    []int64         `json:"costCenterIds"`
	History          []HistoryEntry  `json:"history,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Scope is the subset of the order every dependent document is checked against.
func (o PurchaseOrder) Scope() OrderScope {
	return OrderScope{
		ID:               o.ID,
		SupportID:        o.SupportID,
		Currency:         o.Currency,
		AuthorizedAmount: o.AuthorizedAmount,
		Status:           o.Status,
		Range:            o.Range,
	}
}

// OrderScope carries the limits of an order: authorized amount and period range.
type OrderScope struct {
	ID               int64
	SupportID        int64
	Currency         money.Currency
	AuthorizedAmount decimal.Decimal
	Status           POStatus
	Range            periods.Range
}

// HistoryEntry is one immutable status change.
type HistoryEntry struct {
	ID      int64     `json:"id"`
	OrderID int64     `json:"orderId"`
	From    *POStatus `json:"from,omitempty"`
	To      POStatus  `json:"to"`
	ActorID *int64    `json:"actorId,omitempty"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// Consumption is the position of an order against its authorized amount.
type Consumption struct {
	OrderID    int64           `json:"orderId"`
	Authorized decimal.Decimal `json:"authorized"`
	Consumed   decimal.Decimal `json:"consumed"`
	Remaining  decimal.Decimal `json:"remaining"`
}

package procurement

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// ConsumptionStore sums the documents of an order.
type ConsumptionStore interface {
	OrderConsumption(ctx context.Context, orderID int64, excludeDocumentID *int64) (decimal.Decimal, error)
}

// CeilingRecorder counts documents refused by the order ceiling. *observability.Metrics satisfies it.
type CeilingRecorder interface {
	OrderCeilingRejected(docType string)
}

// ConsumptionTracker answers how much of an order is used. Nothing is cached:
// every call goes back to storage.
type ConsumptionTracker struct {
	store   ConsumptionStore
	metrics CeilingRecorder
}

// NewConsumptionTracker builds a tracker over store.
func NewConsumptionTracker(store ConsumptionStore) *ConsumptionTracker {
	return &ConsumptionTracker{store: store}
}

// WithMetrics attaches a rejection recorder.
func (t *ConsumptionTracker) WithMetrics(m CeilingRecorder) *ConsumptionTracker {
	t.metrics = m
	return t
}

// Bind returns a copy of the tracker reading through store.
func (t *ConsumptionTracker) Bind(store ConsumptionStore) *ConsumptionTracker {
	cp := *t
	cp.store = store
	return &cp
}

// CalcOrderConsumption returns Σ CHARGE − Σ CREDIT_NOTE over the non-cancelled
// documents of the order. An edit passes its own id as excludeDocumentID.
func (t *ConsumptionTracker) CalcOrderConsumption(ctx context.Context, orderID int64, excludeDocumentID *int64) (decimal.Decimal, error) {
	return t.store.OrderConsumption(ctx, orderID, excludeDocumentID)
}

// Position reports authorized, consumed and remaining amounts of an order.
func (t *ConsumptionTracker) Position(ctx context.Context, order OrderScope) (Consumption, error) {
	consumed, err := t.CalcOrderConsumption(ctx, order.ID, nil)
	if err != nil {
		return Consumption{}, err
	}
	return Consumption{
		OrderID:    order.ID,
		Authorized: order.AuthorizedAmount,
		Consumed:   consumed,
		Remaining:  order.AuthorizedAmount.Sub(consumed),
	}, nil
}

// ValidateDocumentAmount rejects a CHARGE above the remaining authorization and
// a CREDIT_NOTE above what was consumed.
func (t *ConsumptionTracker) ValidateDocumentAmount(order OrderScope, consumption decimal.Decimal, docType DocType, amount decimal.Decimal) error {
	err := ValidateDocumentAmount(order, consumption, docType, amount)
	if err != nil && t.metrics != nil {
		t.metrics.OrderCeilingRejected(string(docType))
	}
	return err
}

// ValidateDocumentAmount is the stateless rule behind ConsumptionTracker.ValidateDocumentAmount.
func ValidateDocumentAmount(order OrderScope, consumption decimal.Decimal, docType DocType, amount decimal.Decimal) error {
	switch docType {
	case DocCharge:
		remaining := order.AuthorizedAmount.Sub(consumption)
		if amount.GreaterThan(remaining) {
			return shared.NewValidationError("amount", "charge of %s exceeds the remaining %s of order %d",
				money.Format(amount, order.Currency), money.Format(remaining, order.Currency), order.ID)
		}
	case DocCreditNote:
		if amount.GreaterThan(consumption) {
			return shared.NewValidationError("amount", "credit note of %s exceeds the consumed %s of order %d",
				money.Format(amount, order.Currency), money.Format(consumption, order.Currency), order.ID)
		}
	default:
		return shared.NewValidationError("docType", "must be CHARGE or CREDIT_NOTE")
	}
	return nil
}

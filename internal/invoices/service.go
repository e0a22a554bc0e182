package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/fx"
	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/notify"
	"github.com/odyssey-erp/budgetguard/internal/periods"
	"github.com/odyssey-erp/budgetguard/internal/procurement"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// CreateInput describes a new document. Either OrderID or SupportID is required;
// a linked document inherits the order's support.
type CreateInput struct {
	Number          string           `json:"number" validate:"required,max=60"`
	OrderID         *int64           `json:"orderId,omitempty" validate:"omitempty,gt=0"`
	SupportID       *int64           `json:"supportId,omitempty" validate:"omitempty,gt=0"`
	VendorID        *int64           `json:"vendorId,omitempty" validate:"omitempty,gt=0"`
	DocType         string           `json:"docType" validate:"required,oneof=CHARGE CREDIT_NOTE"`
	Currency        string           `json:"currency" validate:"required,currency"`
	Amount          decimal.Decimal  `json:"amount"`
	RateOverride    *decimal.Decimal `json:"rateOverride,omitempty"`
	PeriodIDs       []int64          `json:"periodIds" validate:"required,min=1,dive,gt=0"`
	AccountingMonth *string          `json:"accountingMonth,omitempty" validate:"omitempty,yearmonth"`
	RealRate        *decimal.Decimal `json:"realRate,omitempty"`
	Splits          []Split          `json:"costCenterSplits" validate:"dive"`
}

// UpdateInput replaces the editable fields. Order, support, type and currency
// are fixed at creation.
type UpdateInput struct {
	Number       string           `json:"number" validate:"required,max=60"`
	VendorID     *int64           `json:"vendorId,omitempty" validate:"omitempty,gt=0"`
	Amount       decimal.Decimal  `json:"amount"`
	RateOverride *decimal.Decimal `json:"rateOverride,omitempty"`
	PeriodIDs    []int64          `json:"periodIds" validate:"required,min=1,dive,gt=0"`
	Splits       []Split          `json:"costCenterSplits" validate:"dive"`
}

// AccountingInput books a document into an accounting month.
type AccountingInput struct {
	Month    string           `json:"accountingMonth" validate:"required,yearmonth"`
	RealRate *decimal.Decimal `json:"realRate,omitempty"`
}

// Service orchestrates document flows.
type Service struct {
	repo     RepositoryPort
	tracker  *procurement.ConsumptionTracker
	calc     *fx.Calculator
	audit    shared.AuditPort
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the invoice service. tracker is rebound to each
// transaction so consumption is read under the order lock.
func NewService(repo RepositoryPort, tracker *procurement.ConsumptionTracker, calc *fx.Calculator, audit shared.AuditPort, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = procurement.NewConsumptionTracker(nil)
	}
	return &Service{
		repo:     repo,
		tracker:  tracker,
		calc:     calc,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns a document with its periods, splits and history.
func (s *Service) Get(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// List returns recent documents.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, filter)
}

// Create validates and stores a document in RECEIVED.
func (s *Service) Create(ctx context.Context, in CreateInput) (Invoice, error) {
	docType, err := procurement.ParseDocType(in.DocType)
	if err != nil {
		return Invoice{}, err
	}
	cur, err := money.ParseCurrency(in.Currency)
	if err != nil {
		return Invoice{}, shared.NewValidationError("currency", "%s", err.Error())
	}
	if in.OrderID == nil && in.SupportID == nil {
		return Invoice{}, shared.NewValidationError("orderId", "either orderId or supportId is required")
	}
	inv := Invoice{
		Number:       in.Number,
		OrderID:      in.OrderID,
		SupportID:    in.SupportID,
		VendorID:     in.VendorID,
		DocType:      docType,
		Currency:     cur,
		Amount:       in.Amount,
		RateOverride: in.RateOverride,
		Status:       StatusReceived,
		PeriodIDs:    in.PeriodIDs,
		Splits:       in.Splits,
	}
	if err := validateAmounts(inv); err != nil {
		return Invoice{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.prepare(ctx, tx, &inv, nil); err != nil {
			return err
		}
		if in.AccountingMonth != nil {
			if err := ensureMonthOpen(ctx, tx, *in.AccountingMonth); err != nil {
				return err
			}
		}
		realRate := in.RealRate
		if realRate == nil && in.AccountingMonth != nil {
			realRate = in.RateOverride
		}
		fields, err := s.calc.CalcAccountingFields(ctx, fx.CalcInput{
			Currency:        inv.Currency,
			Amount:          inv.Amount,
			Periods:         inv.Periods,
			AccountingMonth: in.AccountingMonth,
			RealRate:        realRate,
		})
		if err != nil {
			return err
		}
		inv.Columns = fields.Columns()

		created, err := tx.InsertInvoice(ctx, inv)
		if err != nil {
			return err
		}
		if err := tx.ReplacePeriods(ctx, created.ID, created.PeriodIDs); err != nil {
			return err
		}
		if err := tx.ReplaceSplits(ctx, created.ID, created.Splits); err != nil {
			return err
		}
		h := s.history(ctx, created.ID, nil, StatusReceived, "received")
		if err := tx.AppendHistory(ctx, h); err != nil {
			return err
		}
		created.History = []HistoryEntry{h}
		inv = created
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "INVOICE_CREATE", inv.ID, map[string]any{
		"number":   inv.Number,
		"docType":  inv.DocType,
		"amount":   inv.Amount.String(),
		"currency": inv.Currency,
	})
	s.publish(ctx, notify.EventInvoiceCreated, inv)
	return inv, nil
}

// Update edits a document still in an editable status. The consumption check
// excludes the document's own current amount.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Invoice, error) {
	var updated Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoice(ctx, id, true)
		if err != nil {
			return err
		}
		if !inv.Status.Editable() {
			return fmt.Errorf("%w: invoice %d is %s", shared.ErrConflict, id, inv.Status)
		}
		inv.Number = in.Number
		inv.VendorID = in.VendorID
		inv.Amount = in.Amount
		inv.RateOverride = in.RateOverride
		inv.PeriodIDs = in.PeriodIDs
		inv.Splits = in.Splits
		if err := validateAmounts(inv); err != nil {
			return err
		}
		if err := s.prepare(ctx, tx, &inv, &id); err != nil {
			return err
		}

		realRate := inv.RealRate
		if realRate == nil && inv.AccountingMonth != nil {
			realRate = inv.RateOverride
		}
		fields, err := s.calc.CalcAccountingFields(ctx, fx.CalcInput{
			Currency:        inv.Currency,
			Amount:          inv.Amount,
			Periods:         inv.Periods,
			AccountingMonth: inv.AccountingMonth,
			RealRate:        realRate,
		})
		if err != nil {
			return err
		}
		inv.Columns = fields.Columns()

		saved, err := tx.UpdateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		if err := tx.ReplacePeriods(ctx, id, inv.PeriodIDs); err != nil {
			return err
		}
		if err := tx.ReplaceSplits(ctx, id, inv.Splits); err != nil {
			return err
		}
		updated = saved
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "INVOICE_UPDATE", id, map[string]any{"amount": updated.Amount.String()})
	s.publish(ctx, notify.EventInvoiceUpdated, updated)
	return updated, nil
}

// SetAccounting books the document into month. Foreign documents keep their
// standard side and are valued at realRate, else the rate override, else the
// standard rate.
func (s *Service) SetAccounting(ctx context.Context, id int64, in AccountingInput) (Invoice, error) {
	ym, err := shared.ParseYearMonth(in.Month)
	if err != nil {
		return Invoice{}, shared.NewValidationError("accountingMonth", "%s", err.Error())
	}
	month := ym.Label()
	var updated Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoice(ctx, id, true)
		if err != nil {
			return err
		}
		if !inv.Status.Editable() {
			return fmt.Errorf("%w: invoice %d is %s", shared.ErrConflict, id, inv.Status)
		}
		if err := ensureMonthOpen(ctx, tx, month); err != nil {
			return err
		}
		current, err := inv.Fields()
		if err != nil {
			return err
		}
		var next fx.AccountingFields
		switch f := current.(type) {
		case fx.LocalFields:
			if in.RealRate != nil {
				return shared.NewValidationError("realRate", "%s documents carry no exchange rate", inv.Currency)
			}
			next = fx.LocalFields{Month: &month}
		case fx.QuotedFields:
			next, err = s.calc.Close(f, month, rateOrOverride(in.RealRate, inv.RateOverride))
		case fx.ClosedFields:
			next, err = s.calc.Close(f.QuotedFields, month, rateOrOverride(in.RealRate, inv.RateOverride))
		}
		if err != nil {
			return err
		}
		inv.Columns = next.Columns()
		saved, err := tx.UpdateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		updated = saved
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "INVOICE_ACCOUNTING", id, map[string]any{"accountingMonth": month})
	s.publish(ctx, notify.EventInvoiceUpdated, updated)
	return updated, nil
}

// Transition moves the document one step along its workflow, or to CANCELLED.
// ACCOUNTED requires an accounting month.
func (s *Service) Transition(ctx context.Context, id int64, to Status, note string) (Invoice, error) {
	var (
		updated Invoice
		from    Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoice(ctx, id, true)
		if err != nil {
			return err
		}
		if err := ValidateTransition(inv.Status, to); err != nil {
			return fmt.Errorf("%w: %w", shared.ErrConflict, err)
		}
		if to == StatusAccounted && inv.AccountingMonth == nil {
			return shared.NewValidationError("accountingMonth", "must be set before the document is ACCOUNTED")
		}
		from = inv.Status
		inv.Status = to
		saved, err := tx.UpdateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, s.history(ctx, id, &from, to, note)); err != nil {
			return err
		}
		updated = saved
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "INVOICE_STATUS", id, map[string]any{"from": from, "to": to})
	s.publish(ctx, notify.EventInvoiceStatusChanged, updated)
	return updated, nil
}

// prepare checks references, periods, splits and, for linked documents, the
// order range and ceiling. It fills inv.Periods and inv.SupportID.
func (s *Service) prepare(ctx context.Context, tx TxRepository, inv *Invoice, exclude *int64) error {
	var (
		order   procurement.OrderScope
		linked  = inv.OrderID != nil
		allowed map[int64]bool
	)
	if linked {
		var err error
		order, err = tx.LockOrder(ctx, *inv.OrderID)
		if err != nil {
			return asReference(err, "orderId")
		}
		if !order.Status.AcceptsDocuments() {
			return fmt.Errorf("%w: order %d is %s", shared.ErrConflict, order.ID, order.Status)
		}
		if order.Currency != inv.Currency {
			return shared.NewValidationError("currency", "must match the order currency %s", order.Currency)
		}
		if inv.SupportID != nil && *inv.SupportID != order.SupportID {
			return shared.NewValidationError("supportId", "must match the order support %d", order.SupportID)
		}
		inv.SupportID = &order.SupportID
		centers, err := tx.OrderCostCenters(ctx, order.ID)
		if err != nil {
			return err
		}
		if len(centers) > 0 {
			allowed = make(map[int64]bool, len(centers))
			for _, id := range centers {
				allowed[id] = true
			}
		}
	} else {
		known, err := tx.ExistingSupports(ctx, []int64{*inv.SupportID})
		if err != nil {
			return err
		}
		if !known[*inv.SupportID] {
			return shared.NewValidationError("supportId", "support %d does not exist", *inv.SupportID)
		}
	}
	if inv.VendorID != nil {
		known, err := tx.ExistingVendors(ctx, []int64{*inv.VendorID})
		if err != nil {
			return err
		}
		if !known[*inv.VendorID] {
			return shared.NewValidationError("vendorId", "vendor %d does not exist", *inv.VendorID)
		}
	}

	months, err := s.resolvePeriods(ctx, tx, inv.PeriodIDs)
	if err != nil {
		return err
	}
	inv.Periods = months
	if linked {
		if err := periods.ValidatePeriodRange(order.Range, months); err != nil {
			var rerr *periods.RangeError
			if errors.As(err, &rerr) {
				return shared.NewValidationError(fmt.Sprintf("periodIds[%d]", rerr.Index), "%s", rerr.Error())
			}
			return err
		}
	}

	if err := checkSplitCenters(ctx, tx, inv.Splits, allowed); err != nil {
		return err
	}

	if linked {
		tracker := s.tracker.Bind(tx)
		consumed, err := tracker.CalcOrderConsumption(ctx, order.ID, exclude)
		if err != nil {
			return err
		}
		if err := tracker.ValidateDocumentAmount(order, consumed, inv.DocType, inv.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) resolvePeriods(ctx context.Context, tx TxRepository, ids []int64) ([]shared.YearMonth, error) {
	seen := make(map[int64]int, len(ids))
	for i, id := range ids {
		if first, ok := seen[id]; ok {
			return nil, shared.NewValidationError(fmt.Sprintf("periodIds[%d]", i), "duplicates periodIds[%d]", first)
		}
		seen[id] = i
	}
	out := make([]shared.YearMonth, len(ids))
	for i, id := range ids {
		ps, err := tx.LockPeriods(ctx, []int64{id})
		if err != nil {
			return nil, asReference(err, fmt.Sprintf("periodIds[%d]", i))
		}
		out[i] = ps[id].YearMonth()
	}
	return out, nil
}

func checkSplitCenters(ctx context.Context, tx TxRepository, splits []Split, allowed map[int64]bool) error {
	if len(splits) == 0 {
		return nil
	}
	ids := make([]int64, len(splits))
	for i, sp := range splits {
		ids[i] = sp.CostCenterID
	}
	known, err := tx.ExistingCostCenters(ctx, ids)
	if err != nil {
		return err
	}
	for i, id := range ids {
		field := fmt.Sprintf("costCenterSplits[%d].costCenterId", i)
		if !known[id] {
			return shared.NewValidationError(field, "cost center %d does not exist", id)
		}
		if allowed != nil && !allowed[id] {
			return shared.NewValidationError(field, "cost center %d is not assigned to the order", id)
		}
	}
	return nil
}

func ensureMonthOpen(ctx context.Context, tx TxRepository, month string) error {
	ym, err := shared.ParseYearMonth(month)
	if err != nil {
		return shared.NewValidationError("accountingMonth", "%s", err.Error())
	}
	p, ok, err := tx.PeriodByMonth(ctx, ym)
	if err != nil || !ok {
		return err
	}
	return p.EnsureOpen()
}

func validateAmounts(inv Invoice) error {
	if !inv.Amount.IsPositive() {
		return shared.NewValidationError("amount", "must be positive")
	}
	if !inv.Currency.Fits(inv.Amount) {
		return shared.NewValidationError("amount", "at most %d decimals allowed for %s", inv.Currency.Fraction(), inv.Currency)
	}
	if inv.RateOverride != nil {
		if err := fx.ValidateRate("rateOverride", *inv.RateOverride); err != nil {
			return err
		}
	}
	if inv.Currency.IsLocal() && inv.RateOverride != nil {
		return shared.NewValidationError("rateOverride", "%s documents carry no exchange rate", inv.Currency)
	}
	return ValidateSplits(inv.Amount, inv.Splits)
}

func rateOrOverride(rate, override *decimal.Decimal) *decimal.Decimal {
	if rate != nil {
		return rate
	}
	return override
}

func asReference(err error, field string) error {
	var nf *shared.NotFoundError
	if errors.As(err, &nf) {
		return shared.NewValidationError(field, "%s", nf.Error())
	}
	return err
}

func (s *Service) history(ctx context.Context, invoiceID int64, from *Status, to Status, note string) HistoryEntry {
	h := HistoryEntry{InvoiceID: invoiceID, From: from, To: to, Note: note, At: s.now()}
	if actor := shared.ActorID(ctx); actor != 0 {
		h.ActorID = &actor
	}
	return h
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorID(ctx),
		Action:   action,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit invoice", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, eventType string, inv Invoice) {
	payload := map[string]any{
		"number":   inv.Number,
		"docType":  inv.DocType,
		"status":   inv.Status,
		"currency": inv.Currency,
		"amount":   inv.Amount.String(),
	}
	if inv.OrderID != nil {
		payload["orderId"] = *inv.OrderID
	}
	event := notify.NewEvent(eventType, "invoice", inv.ID, shared.ActorID(ctx), payload)
	notify.Dispatch(ctx, s.logger, s.notifier, event)
}

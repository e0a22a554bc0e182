package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/notify"
	"github.com/odyssey-erp/budgetguard/internal/periods"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// CreateOrderInput describes a new purchase order.
type CreateOrderInput struct {
	Number           string          `json:"number" validate:"max=60"`
	SupportID        int64           `json:"supportId" validate:"required,gt=0"`
	VendorID         *int64          `json:"vendorId,omitempty" validate:"omitempty,gt=0"`
	PeriodFromID     int64           `json:"periodFromId" validate:"required,gt=0"`
	PeriodToID       int64           `json:"periodToId" validate:"required,gt=0"`
	Currency         string          `json:"currency" validate:"required,currency"`
	AuthorizedAmount decimal.Decimal `json:"authorizedAmount"`
	CostCenterIDs    []int64         `json:"costCenterIds" validate:"dive,gt=0"`
}

// UpdateOrderInput replaces the editable fields of an order. Currency and
// support are fixed at creation.
type UpdateOrderInput struct {
	VendorID         *int64          `json:"vendorId,omitempty" validate:"omitempty,gt=0"`
	PeriodFromID     int64           `json:"periodFromId" validate:"required,gt=0"`
	PeriodToID       int64           `json:"periodToId" validate:"required,gt=0"`
	AuthorizedAmount decimal.Decimal `json:"authorizedAmount"`
	CostCenterIDs    []int64         `json:"costCenterIds" validate:"dive,gt=0"`
}

// Service orchestrates purchase order flows.
type Service struct {
	repo     RepositoryPort
	tracker  *ConsumptionTracker
	audit    shared.AuditPort
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, audit shared.AuditPort, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		tracker:  NewConsumptionTracker(repo),
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

// Tracker exposes the consumption tracker bound to the pool.
func (s *Service) Tracker() *ConsumptionTracker { return s.tracker }

// Get returns an order with its history.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetOrder(ctx, id)
}

// List returns recent orders.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	return s.repo.ListOrders(ctx, filter)
}

// Consumption reports the order position against its authorization.
func (s *Service) Consumption(ctx context.Context, id int64) (Consumption, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Consumption{}, err
	}
	return s.tracker.Position(ctx, order.Scope())
}

// CreateOrder persists the order, its cost centers and the first history row.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (PurchaseOrder, error) {
	cur, err := money.ParseCurrency(in.Currency)
	if err != nil {
		return PurchaseOrder{}, shared.NewValidationError("currency", "%s", err.Error())
	}
	if in.AuthorizedAmount.IsNegative() {
		return PurchaseOrder{}, shared.NewValidationError("authorizedAmount", "must not be negative")
	}
	if !cur.Fits(in.AuthorizedAmount) {
		return PurchaseOrder{}, shared.NewValidationError("authorizedAmount", "at most %d decimals allowed for %s", cur.Fraction(), cur)
	}
	if in.Number == "" {
		in.Number = generateNumber("PO", s.now())
	}
	order := PurchaseOrder{
		Number:           in.Number,
		SupportID:        in.SupportID,
		VendorID:         in.VendorID,
		PeriodFromID:     in.PeriodFromID,
		PeriodToID:       in.PeriodToID,
		Currency:         cur,
		AuthorizedAmount: in.AuthorizedAmount,
		Status:           POStatusDraft,
		CostCenterIDs:    normalizeIDs(in.CostCenterIDs),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := checkReferences(ctx, tx, order); err != nil {
			return err
		}
		rng, err := resolveRange(ctx, tx, order.PeriodFromID, order.PeriodToID)
		if err != nil {
			return err
		}
		order.Range = rng
		created, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		created.Range = rng
		created.CostCenterIDs = order.CostCenterIDs
		if err := tx.ReplaceCostCenters(ctx, created.ID, created.CostCenterIDs); err != nil {
			return err
		}
		h := s.history(ctx, created.ID, nil, POStatusDraft, "created")
		if err := tx.AppendHistory(ctx, h); err != nil {
			return err
		}
		created.History = []HistoryEntry{h}
		order = created
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_CREATE", order.ID, map[string]any{
		"number":     order.Number,
		"authorized": order.AuthorizedAmount.String(),
		"currency":   order.Currency,
	})
	s.publish(ctx, notify.EventOrderCreated, order)
	return order, nil
}

// UpdateOrder edits an order while keeping every linked document valid: the
// authorization cannot drop below consumption and the range must still cover
// every linked month.
func (s *Service) UpdateOrder(ctx context.Context, id int64, in UpdateOrderInput) (PurchaseOrder, error) {
	if in.AuthorizedAmount.IsNegative() {
		return PurchaseOrder{}, shared.NewValidationError("authorizedAmount", "must not be negative")
	}
	var updated PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrder(ctx, id, true)
		if err != nil {
			return err
		}
		if !order.Status.AcceptsDocuments() {
			return fmt.Errorf("%w: order %d is %s", shared.ErrConflict, id, order.Status)
		}
		order.VendorID = in.VendorID
		order.PeriodFromID = in.PeriodFromID
		order.PeriodToID = in.PeriodToID
		if !order.Currency.Fits(in.AuthorizedAmount) {
			return shared.NewValidationError("authorizedAmount", "at most %d decimals allowed for %s", order.Currency.Fraction(), order.Currency)
		}
		order.AuthorizedAmount = in.AuthorizedAmount
		order.CostCenterIDs = normalizeIDs(in.CostCenterIDs)
		if err := checkReferences(ctx, tx, order); err != nil {
			return err
		}
		rng, err := resolveRange(ctx, tx, order.PeriodFromID, order.PeriodToID)
		if err != nil {
			return err
		}
		order.Range = rng

		consumed, err := tx.OrderConsumption(ctx, id, nil)
		if err != nil {
			return err
		}
		if order.AuthorizedAmount.LessThan(consumed) {
			return shared.NewValidationError("authorizedAmount", "must cover the consumed %s", money.Format(consumed, order.Currency))
		}
		span, ok, err := tx.LinkedPeriodSpan(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			if err := periods.ValidatePeriodRange(rng, []shared.YearMonth{span.From, span.To}); err != nil {
				return shared.NewValidationError("periodFromId", "range must cover linked months %s to %s", span.From.Label(), span.To.Label())
			}
		}

		saved, err := tx.UpdateOrder(ctx, order)
		if err != nil {
			return err
		}
		if err := tx.ReplaceCostCenters(ctx, id, order.CostCenterIDs); err != nil {
			return err
		}
		updated = saved
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_UPDATE", id, map[string]any{"authorized": updated.AuthorizedAmount.String()})
	return updated, nil
}

// Transition moves the order along its workflow and appends history.
func (s *Service) Transition(ctx context.Context, id int64, to POStatus, note string) (PurchaseOrder, error) {
	var updated PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrder(ctx, id, true)
		if err != nil {
			return err
		}
		if err := ValidateTransition(order.Status, to); err != nil {
			return fmt.Errorf("%w: %w", shared.ErrConflict, err)
		}
		from := order.Status
		order.Status = to
		saved, err := tx.UpdateOrder(ctx, order)
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
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_STATUS", id, map[string]any{"status": updated.Status})
	return updated, nil
}

func checkReferences(ctx context.Context, tx TxRepository, o PurchaseOrder) error {
	supports, err := tx.ExistingSupports(ctx, []int64{o.SupportID})
	if err != nil {
		return err
	}
	if !supports[o.SupportID] {
		return shared.NewValidationError("supportId", "support %d does not exist", o.SupportID)
	}
	if o.VendorID != nil {
		vendors, err := tx.ExistingVendors(ctx, []int64{*o.VendorID})
		if err != nil {
			return err
		}
		if !vendors[*o.VendorID] {
			return shared.NewValidationError("vendorId", "vendor %d does not exist", *o.VendorID)
		}
	}
	if len(o.CostCenterIDs) > 0 {
		known, err := tx.ExistingCostCenters(ctx, o.CostCenterIDs)
		if err != nil {
			return err
		}
		for i, id := range o.CostCenterIDs {
			if !known[id] {
				return shared.NewValidationError(fmt.Sprintf("costCenterIds[%d]", i), "cost center %d does not exist", id)
			}
		}
	}
	return nil
}

func resolveRange(ctx context.Context, tx TxRepository, fromID, toID int64) (periods.Range, error) {
	from, err := tx.LockPeriods(ctx, []int64{fromID})
	if err != nil {
		return periods.Range{}, asReference(err, "periodFromId")
	}
	to, err := tx.LockPeriods(ctx, []int64{toID})
	if err != nil {
		return periods.Range{}, asReference(err, "periodToId")
	}
	rng := periods.Range{From: from[fromID].YearMonth(), To: to[toID].YearMonth()}
	if rng.From.Key() > rng.To.Key() {
		return periods.Range{}, shared.NewValidationError("periodToId", "range end %s is before start %s", rng.To.Label(), rng.From.Label())
	}
	return rng, nil
}

func asReference(err error, field string) error {
	var nf *shared.NotFoundError
	if errors.As(err, &nf) {
		return shared.NewValidationError(field, "%s", nf.Error())
	}
	return err
}

func (s *Service) history(ctx context.Context, orderID int64, from *POStatus, to POStatus, note string) HistoryEntry {
	h := HistoryEntry{OrderID: orderID, From: from, To: to, Note: note, At: s.now()}
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
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit purchase order", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, eventType string, o PurchaseOrder) {
	event := notify.NewEvent(eventType, "purchase_order", o.ID, shared.ActorID(ctx), map[string]any{
		"number":     o.Number,
		"supportId":  o.SupportID,
		"currency":   o.Currency,
		"authorized": o.AuthorizedAmount.String(),
	})
	notify.Dispatch(ctx, s.logger, s.notifier, event)
}

func generateNumber(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, at.UnixNano())
}

func normalizeIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

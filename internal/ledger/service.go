package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/fx"
	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/notify"
	"github.com/odyssey-erp/budgetguard/internal/periods"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

const idempotencyModule = "ledger.entries"

// RateResolver resolves the provisional and final rates of foreign entries.
type RateResolver interface {
	RequireRate(ctx context.Context, currency money.Currency, periods []shared.YearMonth, override *decimal.Decimal) (fx.Resolution, error)
}

// IdempotencyClaims is satisfied by *shared.IdempotencyStore.
type IdempotencyClaims interface {
	Claim(ctx context.Context, key, module string) error
	Release(ctx context.Context, key, module string) error
}

// EntryInput creates one control line.
type EntryInput struct {
	SupportID          int64            `json:"supportId" validate:"required,gt=0"`
	OrderID            *int64           `json:"orderId,omitempty" validate:"omitempty,gt=0"`
	Type               EntryType        `json:"type" validate:"required,oneof=EXPENSE PROVISION"`
	PeriodID           int64            `json:"periodId" validate:"required,gt=0"`
	AccountingPeriodID int64            `json:"accountingPeriodId" validate:"required,gt=0"`
	Currency           string           `json:"currency" validate:"required,currency"`
	AmountForeign      *decimal.Decimal `json:"amountForeign,omitempty"`
	AmountLocal        *decimal.Decimal `json:"amountLocal,omitempty"`
	FXRate             *decimal.Decimal `json:"fxRate,omitempty"`
	Description        string           `json:"description" validate:"max=500"`
	AllowOverride      bool             `json:"allowOverride"`
}

// ProcessInput settles a pending expense.
type ProcessInput struct {
	AccountingPeriodID *int64           `json:"accountingPeriodId,omitempty" validate:"omitempty,gt=0"`
	FXRateFinal        *decimal.Decimal `json:"fxRateFinal,omitempty"`
	AllowOverride      bool             `json:"allowOverride"`
}

// ProvisionInput moves a pending entry to PROVISIONED.
type ProvisionInput struct {
	AccountingPeriodID *int64 `json:"accountingPeriodId,omitempty" validate:"omitempty,gt=0"`
	AllowOverride      bool   `json:"allowOverride"`
}

// Service coordinates ledger writes under the overspend guard.
type Service struct {
	repo        RepositoryPort
	guard       *Guard
	rates       RateResolver
	idempotency IdempotencyClaims
	audit       shared.AuditPort
	notifier    notify.Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewService wires dependencies. idempotency and notifier may be nil.
func NewService(repo RepositoryPort, guard *Guard, rates RateResolver, idempotency IdempotencyClaims, audit shared.AuditPort, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		guard:       guard,
		rates:       rates,
		idempotency: idempotency,
		audit:       audit,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, id int64) (Entry, error) {
	return s.repo.GetEntry(ctx, id)
}

// List returns recent entries of a scope; zero ids mean any.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	return s.repo.ListEntries(ctx, filter)
}

// CheckOverspend evaluates a prospective delta without writing.
func (s *Service) CheckOverspend(ctx context.Context, in CheckInput) error {
	if in.Operation == "" {
		in.Operation = "check"
	}
	return s.guard.Bind(s.repo).CheckOverspend(ctx, in)
}

// Execution reports the budget position of a scope.
func (s *Service) Execution(ctx context.Context, supportID, periodID int64) (ExecutionSummary, error) {
	return s.guard.Bind(s.repo).Position(ctx, supportID, periodID)
}

// CreateEntry books one control line. When key is non-empty a replay of the
// same key fails with shared.ErrIdempotencyConflict.
func (s *Service) CreateEntry(ctx context.Context, in EntryInput, key string) (Entry, error) {
	draft, err := s.draft(in, "")
	if err != nil {
		return Entry{}, err
	}
	release, err := s.claim(ctx, key)
	if err != nil {
		return Entry{}, err
	}

	var created Entry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockScope(ctx, draft.SupportID, draft.AccountingPeriodID); err != nil {
			return err
		}
		entry, err := s.book(ctx, tx, draft, in, "")
		if err != nil {
			return err
		}
		created = entry
		return nil
	})
	if err != nil {
		release()
		return Entry{}, err
	}
	s.record(ctx, "LEDGER_ENTRY_CREATE", created, map[string]any{
		"type":         created.Type,
		"state":        created.State,
		"amount_local": created.AmountLocal.String(),
	})
	s.publish(ctx, notify.EventLedgerEntryCreated, created)
	return created, nil
}

// CreateProvisions books a batch of provisions atomically. Every scope is
// locked up front in a fixed order so two batches cannot deadlock.
func (s *Service) CreateProvisions(ctx context.Context, items []EntryInput, allowOverride bool) ([]Entry, error) {
	if len(items) == 0 {
		return nil, shared.NewValidationError("items", "at least one provision is required")
	}
	drafts := make([]Entry, len(items))
	for i := range items {
		items[i].Type = TypeProvision
		items[i].AllowOverride = allowOverride
		d, err := s.draft(items[i], fmt.Sprintf("items[%d].", i))
		if err != nil {
			return nil, err
		}
		drafts[i] = d
	}

	var created []Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, sc := range scopesOf(drafts) {
			if err := tx.LockScope(ctx, sc.support, sc.period); err != nil {
				return err
			}
		}
		created = created[:0]
		for i := range drafts {
			entry, err := s.book(ctx, tx, drafts[i], items[i], fmt.Sprintf("items[%d].", i))
			if err != nil {
				return err
			}
			created = append(created, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, e := range created {
		s.record(ctx, "LEDGER_ENTRY_CREATE", e, map[string]any{
			"type":         e.Type,
			"bulk":         true,
			"amount_local": e.AmountLocal.String(),
		})
		s.publish(ctx, notify.EventLedgerEntryCreated, e)
	}
	return created, nil
}

// Process settles a pending expense: it fixes the accounting period and the
// final rate, recomputes the local amount and re-runs the guard on the change.
func (s *Service) Process(ctx context.Context, id int64, in ProcessInput) (Entry, error) {
	if in.FXRateFinal != nil {
		if err := fx.ValidateRate("fxRateFinal", *in.FXRateFinal); err != nil {
			return Entry{}, err
		}
	}
	updated, err := s.transition(ctx, id, StateProcessed, in.AccountingPeriodID, in.AllowOverride,
		func(ctx context.Context, tx TxRepository, e *Entry, period periods.Period) error {
			if e.Currency.IsLocal() {
				one := decimal.NewFromInt(1)
				e.FXRateFinal = &one
				return nil
			}
			if e.AmountForeign == nil {
				return shared.NewValidationError("amountForeign", "required for %s entries", e.Currency)
			}
			rate := e.FXRateProvisional
			if in.FXRateFinal != nil {
				rate = *in.FXRateFinal
			}
			e.FXRateFinal = &rate
			e.AmountLocal = e.AmountForeign.Mul(rate)
			return nil
		})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, "LEDGER_ENTRY_PROCESS", updated, map[string]any{
		"accounting_period_id": updated.AccountingPeriodID,
		"amount_local":         updated.AmountLocal.String(),
	})
	s.publish(ctx, notify.EventLedgerEntryProcessed, updated)
	return updated, nil
}

// Provision moves a pending entry to PROVISIONED, fixing its accounting period
// without touching the rate.
func (s *Service) Provision(ctx context.Context, id int64, in ProvisionInput) (Entry, error) {
	updated, err := s.transition(ctx, id, StateProvisioned, in.AccountingPeriodID, in.AllowOverride, nil)
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, "LEDGER_ENTRY_PROVISION", updated, map[string]any{
		"accounting_period_id": updated.AccountingPeriodID,
	})
	s.publish(ctx, notify.EventLedgerEntryProvision, updated)
	return updated, nil
}

type mutateFunc func(ctx context.Context, tx TxRepository, e *Entry, period periods.Period) error

func (s *Service) transition(ctx context.Context, id int64, target State, periodID *int64, allowOverride bool, mutate mutateFunc) (Entry, error) {
	// The scope is only known after reading the entry; lock it, then re-read under FOR UPDATE.
	current, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	targetPeriod := current.AccountingPeriodID
	if periodID != nil {
		targetPeriod = *periodID
	}

	var updated Entry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := lockScopes(ctx, tx, current.SupportID, current.AccountingPeriodID, targetPeriod); err != nil {
			return err
		}
		entry, err := tx.GetEntry(ctx, id, true)
		if err != nil {
			return err
		}
		if err := ValidateTransition(entry.State, target); err != nil {
			return fmt.Errorf("%w: %w", shared.ErrConflict, err)
		}
		period, err := lockOpenPeriods(ctx, tx, entry.AccountingPeriodID, targetPeriod)
		if err != nil {
			return err
		}
		if err := checkOrderRange(ctx, tx, entry.OrderID, period, ""); err != nil {
			return err
		}

		before := entry
		entry.State = target
		entry.AccountingPeriodID = targetPeriod
		if mutate != nil {
			if err := mutate(ctx, tx, &entry, period); err != nil {
				return err
			}
		}
		delta := entry.Contribution(entry.SupportID, targetPeriod).Sub(before.Contribution(entry.SupportID, targetPeriod))
		err = s.guard.Bind(tx).CheckOverspend(ctx, CheckInput{
			SupportID:          entry.SupportID,
			AccountingPeriodID: targetPeriod,
			Delta:              delta,
			AllowOverride:      allowOverride,
			Operation:          string(target),
		})
		if err != nil {
			return err
		}
		updated, err = tx.UpdateEntry(ctx, entry)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	return updated, nil
}

// draft validates input that does not need storage.
func (s *Service) draft(in EntryInput, prefix string) (Entry, error) {
	typ, err := ParseEntryType(string(in.Type))
	if err != nil {
		return Entry{}, shared.NewValidationError(prefix+"type", "must be EXPENSE or PROVISION")
	}
	cur, err := money.ParseCurrency(in.Currency)
	if err != nil {
		return Entry{}, shared.NewValidationError(prefix+"currency", "%s", err.Error())
	}
	if in.SupportID <= 0 {
		return Entry{}, shared.NewValidationError(prefix+"supportId", "is required")
	}
	if in.PeriodID <= 0 {
		return Entry{}, shared.NewValidationError(prefix+"periodId", "is required")
	}
	if in.AccountingPeriodID <= 0 {
		return Entry{}, shared.NewValidationError(prefix+"accountingPeriodId", "is required")
	}
	if in.FXRate != nil {
		if err := fx.ValidateRate(prefix+"fxRate", *in.FXRate); err != nil {
			return Entry{}, err
		}
	}

	e := Entry{
		SupportID:          in.SupportID,
		OrderID:            in.OrderID,
		Type:               typ,
		PeriodID:           in.PeriodID,
		AccountingPeriodID: in.AccountingPeriodID,
		Currency:           cur,
		Description:        in.Description,
		FXRateProvisional:  decimal.NewFromInt(1),
	}
	switch typ {
	case TypeExpense:
		e.State = StatePending
	case TypeProvision:
		e.State = StateProvisioned
	}

	field := prefix + "amountLocal"
	var amount *decimal.Decimal
	switch cur.Kind() {
	case money.KindLocal:
		amount = in.AmountLocal
	case money.KindForeign:
		field = prefix + "amountForeign"
		amount = in.AmountForeign
		e.AmountForeign = in.AmountForeign
	}
	if amount == nil {
		return Entry{}, shared.NewValidationError(field, "is required")
	}
	switch {
	case typ == TypeProvision && amount.IsZero():
		return Entry{}, shared.NewValidationError(field, "provision amount must not be zero")
	case typ == TypeExpense && !amount.IsPositive():
		return Entry{}, shared.NewValidationError(field, "expense amount must be positive")
	case !cur.Fits(*amount):
		return Entry{}, shared.NewValidationError(field, "at most %d decimals allowed for %s", cur.Fraction(), cur)
	}
	if cur.IsLocal() {
		e.AmountLocal = *amount
	}
	return e, nil
}

// book resolves references and the rate, runs the guard and inserts. The
// caller holds the scope lock.
func (s *Service) book(ctx context.Context, tx TxRepository, e Entry, in EntryInput, prefix string) (Entry, error) {
	supports, err := tx.ExistingSupports(ctx, []int64{e.SupportID})
	if err != nil {
		return Entry{}, err
	}
	if !supports[e.SupportID] {
		return Entry{}, shared.NewValidationError(prefix+"supportId", "support %d does not exist", e.SupportID)
	}
	operative, err := tx.LockPeriod(ctx, e.PeriodID)
	if err != nil {
		return Entry{}, asReference(err, prefix+"periodId")
	}
	accounting := operative
	if e.AccountingPeriodID != e.PeriodID {
		accounting, err = tx.LockPeriod(ctx, e.AccountingPeriodID)
		if err != nil {
			return Entry{}, asReference(err, prefix+"accountingPeriodId")
		}
	}
	if err := accounting.EnsureOpen(); err != nil {
		return Entry{}, err
	}
	if err := checkOrderRange(ctx, tx, e.OrderID, accounting, prefix); err != nil {
		return Entry{}, err
	}

	if !e.Currency.IsLocal() {
		res, err := s.rates.RequireRate(ctx, e.Currency, []shared.YearMonth{operative.YearMonth()}, in.FXRate)
		if err != nil {
			return Entry{}, err
		}
		e.FXRateProvisional = res.Rate
		e.AmountLocal = e.AmountForeign.Mul(res.Rate)
	}

	op := "create_" + string(e.Type)
	err = s.guard.Bind(tx).CheckOverspend(ctx, CheckInput{
		SupportID:          e.SupportID,
		AccountingPeriodID: e.AccountingPeriodID,
		Delta:              e.Contribution(e.SupportID, e.AccountingPeriodID),
		AllowOverride:      in.AllowOverride,
		Operation:          op,
	})
	if err != nil {
		return Entry{}, err
	}
	if actor := shared.ActorID(ctx); actor != 0 {
		e.CreatedBy = &actor
	}
	return tx.InsertEntry(ctx, e)
}

func (s *Service) claim(ctx context.Context, key string) (func(), error) {
	if key == "" || s.idempotency == nil {
		return func() {}, nil
	}
	if err := s.idempotency.Claim(ctx, key, idempotencyModule); err != nil {
		return nil, err
	}
	return func() {
		if err := s.idempotency.Release(ctx, key, idempotencyModule); err != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) record(ctx context.Context, action string, e Entry, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["support_id"] = e.SupportID
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorID(ctx),
		Action:   action,
		Entity:   "ledger_entry",
		EntityID: strconv.FormatInt(e.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit ledger entry", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, eventType string, e Entry) {
	event := notify.NewEvent(eventType, "ledger_entry", e.ID, shared.ActorID(ctx), map[string]any{
		"supportId":          e.SupportID,
		"accountingPeriodId": e.AccountingPeriodID,
		"type":               e.Type,
		"state":              e.State,
		"amountLocal":        e.AmountLocal.String(),
	})
	notify.Dispatch(ctx, s.logger, s.notifier, event)
}

func checkOrderRange(ctx context.Context, tx TxRepository, orderID *int64, accounting periods.Period, prefix string) error {
	if orderID == nil {
		return nil
	}
	scope, err := tx.OrderRange(ctx, *orderID)
	if err != nil {
		return asReference(err, prefix+"orderId")
	}
	err = periods.ValidatePeriodRange(scope.Range, []shared.YearMonth{accounting.YearMonth()})
	var rangeErr *periods.RangeError
	if errors.As(err, &rangeErr) {
		return shared.NewValidationError(prefix+"accountingPeriodId", "%s", rangeErr.Error())
	}
	return err
}

// asReference turns a missing referenced row into a field error.
func asReference(err error, field string) error {
	var nf *shared.NotFoundError
	if errors.As(err, &nf) {
		return shared.NewValidationError(field, "%s", nf.Error())
	}
	return err
}

type scope struct{ support, period int64 }

func scopesOf(entries []Entry) []scope {
	seen := make(map[scope]struct{}, len(entries))
	out := make([]scope, 0, len(entries))
	for _, e := range entries {
		sc := scope{e.SupportID, e.AccountingPeriodID}
		if _, ok := seen[sc]; ok {
			continue
		}
		seen[sc] = struct{}{}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].support != out[j].support {
			return out[i].support < out[j].support
		}
		return out[i].period < out[j].period
	})
	return out
}

// lockOpenPeriods share-locks the period an entry leaves and the one it moves
// to, and requires both to be open. It returns the target.
func lockOpenPeriods(ctx context.Context, tx TxRepository, currentID, targetID int64) (periods.Period, error) {
	if currentID != targetID {
		current, err := tx.LockPeriod(ctx, currentID)
		if err != nil {
			return periods.Period{}, asReference(err, "accountingPeriodId")
		}
		if err := current.EnsureOpen(); err != nil {
			return periods.Period{}, err
		}
	}
	target, err := tx.LockPeriod(ctx, targetID)
	if err != nil {
		return periods.Period{}, asReference(err, "accountingPeriodId")
	}
	if err := target.EnsureOpen(); err != nil {
		return periods.Period{}, err
	}
	return target, nil
}

func lockScopes(ctx context.Context, tx TxRepository, supportID int64, periodIDs ...int64) error {
	entries := make([]Entry, 0, len(periodIDs))
	for _, p := range periodIDs {
		entries = append(entries, Entry{SupportID: supportID, AccountingPeriodID: p})
	}
	for _, sc := range scopesOf(entries) {
		if err := tx.LockScope(ctx, sc.support, sc.period); err != nil {
			return err
		}
	}
	return nil
}

package fx

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// Service groups rate administration with the resolver and calculator.
type Service struct {
	store      RateStore
	resolver   *Resolver
	calculator *Calculator
	audit      shared.AuditPort
	logger     *slog.Logger
}

// NewService wires the fx service. audit may be nil.
func NewService(store RateStore, resolver *Resolver, calculator *Calculator, audit shared.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, resolver: resolver, calculator: calculator, audit: audit, logger: logger}
}

func (s *Service) ListRates(ctx context.Context) ([]AnnualRate, error) {
	return s.store.ListAnnualRates(ctx)
}

// SetAnnualRate creates or replaces the rate for year.
func (s *Service) SetAnnualRate(ctx context.Context, year int, rate decimal.Decimal) (AnnualRate, error) {
	if year < 1900 || year > 9999 {
		return AnnualRate{}, shared.NewValidationError("year", "must be between 1900 and 9999")
	}
	if err := ValidateRate("rate", rate); err != nil {
		return AnnualRate{}, err
	}
	saved, err := s.store.UpsertAnnualRate(ctx, year, rate, shared.ActorID(ctx))
	if err != nil {
		return AnnualRate{}, err
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  shared.ActorID(ctx),
			Action:   "FX_ANNUAL_RATE_SET",
			Entity:   "annual_exchange_rate",
			EntityID: strconv.Itoa(year),
			Meta:     map[string]any{"rate": rate.String()},
		})
		if err != nil {
			s.logger.Warn("fx audit failed", slog.Int("year", year), slog.Any("error", err))
		}
	}
	return saved, nil
}

func (s *Service) Resolve(ctx context.Context, currency money.Currency, periods []shared.YearMonth, override *decimal.Decimal) (Resolution, error) {
	return s.resolver.ResolveEffectiveRate(ctx, currency, periods, override)
}

func (s *Service) AccountingFields(ctx context.Context, in CalcInput) (AccountingFields, error) {
	return s.calculator.CalcAccountingFields(ctx, in)
}

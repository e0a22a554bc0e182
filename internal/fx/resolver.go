package fx

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// FailureRecorder counts amounts rejected for lack of a rate. *observability.Metrics satisfies it.
type FailureRecorder interface {
	RateResolutionFailed(currency string)
}

// Resolver picks the effective rate for an amount.
type Resolver struct {
	rates   RateSource
	metrics FailureRecorder
}

// NewResolver constructs a Resolver over the annual rate catalog.
func NewResolver(rates RateSource) *Resolver {
	return &Resolver{rates: rates}
}

// WithMetrics attaches a failure recorder.
func (r *Resolver) WithMetrics(m FailureRecorder) *Resolver {
	r.metrics = m
	return r
}

// ResolveEffectiveRate applies, in order: local currency (rate 1, override
// ignored), a manual override, then the annual rate of the first period's year.
// When nothing applies the result has Source SourceError and err is nil; err is
// reserved for storage failures and invalid input.
func (r *Resolver) ResolveEffectiveRate(ctx context.Context, currency money.Currency, periods []shared.YearMonth, override *decimal.Decimal) (Resolution, error) {
	switch currency.Kind() {
	case money.KindLocal:
		return Resolution{Rate: decimal.NewFromInt(1), Source: SourceLocal}, nil
	case money.KindForeign:
	default:
		return Resolution{}, fmt.Errorf("fx: unknown currency kind for %s", currency)
	}

	if override != nil {
		if err := ValidateRate("rateOverride", *override); err != nil {
			return Resolution{}, err
		}
		return Resolution{Rate: *override, Source: SourceOverride}, nil
	}

	if len(periods) == 0 {
		return Resolution{Source: SourceError}, nil
	}
	year := periods[0].Year
	rate, found, err := r.rates.AnnualRate(ctx, year)
	if err != nil {
		return Resolution{}, err
	}
	if !found {
		return Resolution{Source: SourceError, Year: year}, nil
	}
	return Resolution{Rate: rate, Source: SourceAnnual, Year: year}, nil
}

// RequireRate is ResolveEffectiveRate for callers that cannot proceed without a
// rate: SourceError becomes a RateResolutionError.
func (r *Resolver) RequireRate(ctx context.Context, currency money.Currency, periods []shared.YearMonth, override *decimal.Decimal) (Resolution, error) {
	res, err := r.ResolveEffectiveRate(ctx, currency, periods, override)
	if err != nil {
		return Resolution{}, err
	}
	if !res.OK() {
		if r.metrics != nil {
			r.metrics.RateResolutionFailed(currency.String())
		}
		return Resolution{}, &shared.RateResolutionError{Currency: currency.String(), Year: res.Year}
	}
	return res, nil
}

// AnnualRate exposes the catalog lookup used as the standard rate.
func (r *Resolver) AnnualRate(ctx context.Context, year int) (decimal.Decimal, bool, error) {
	return r.rates.AnnualRate(ctx, year)
}

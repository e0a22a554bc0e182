// Package fx resolves the exchange rate applied to foreign amounts and derives
// the quoted and closed PEN-equivalent fields of monetary documents.
package fx

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// Source records where an effective rate came from.
type Source string

const (
	SourceLocal    Source = "local"
	SourceOverride Source = "override"
	SourceAnnual   Source = "annual"
	// SourceError means no rate could be found. It is a value, not a Go error.
	SourceError Source = "error"
)

// Resolution is the outcome of ResolveEffectiveRate.
type Resolution struct {
	Rate   decimal.Decimal `json:"rate"`
	Source Source          `json:"source"`
	// Year is the reference year consulted for the annual rate, 0 when none applied.
	Year int `json:"year,omitempty"`
}

// OK reports whether a usable rate was found.
func (r Resolution) OK() bool { return r.Source != SourceError }

// AnnualRate is the fallback PEN per USD rate for a calendar year.
type AnnualRate struct {
	Year      int             `json:"year"`
	Rate      decimal.Decimal `json:"rate"`
	UpdatedAt time.Time       `json:"updatedAt"`
	UpdatedBy *int64          `json:"updatedBy,omitempty"`
}

var (
	// ErrInvalidRate rejects zero or negative rates.
	ErrInvalidRate = errors.New("fx: rate must be positive")
)

// ValidateRate rejects rates that are not positive or that storage would round.
func ValidateRate(field string, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return shared.NewValidationError(field, "%s", ErrInvalidRate.Error())
	}
	if !money.HasScale(rate, money.RateScale) {
		return shared.NewValidationError(field, "at most %d decimals allowed", money.RateScale)
	}
	return nil
}

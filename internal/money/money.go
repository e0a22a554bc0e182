// Package money holds the currency model and decimal helpers shared by every amount in the engine.
//
// Amounts are shopspring decimals end to end; binary floats never touch a persisted value.
package money

import (
	"errors"
	"fmt"
	"strings"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Currency is an upper-case ISO-4217 code.
type Currency string

// Local is the currency every amount resolves to.
const Local Currency = "PEN"

// USD is the only foreign currency covered by the annual rate catalog.
const USD Currency = "USD"

// Kind distinguishes local amounts (no FX) from foreign ones (FX required).
type Kind int

const (
	KindLocal Kind = iota
	KindForeign
)

// ErrUnsupportedCurrency is returned for valid ISO codes the engine does not book.
var ErrUnsupportedCurrency = errors.New("money: unsupported currency")

var supported = map[Currency]struct{}{Local: {}, USD: {}}

// ParseCurrency normalises and validates code.
func ParseCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("money: invalid currency %q", code)
	}
	c := Currency(unit.String())
	if _, ok := supported[c]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCurrency, c)
	}
	return c, nil
}

// IsSupported reports whether code parses to a bookable currency.
func IsSupported(code string) bool {
	_, err := ParseCurrency(code)
	return err == nil
}

// Kind classifies the currency.
func (c Currency) Kind() Kind {
	if c == Local {
		return KindLocal
	}
	return KindForeign
}

// IsLocal is shorthand for Kind() == KindLocal.
func (c Currency) IsLocal() bool { return c.Kind() == KindLocal }

func (c Currency) String() string { return string(c) }

// Fraction returns the minor-unit digits of the currency.
func (c Currency) Fraction() int32 {
	return int32(gomoney.New(0, string(c)).Currency().Fraction)
}

// Fits reports whether amount needs no more decimals than the currency's minor units.
func (c Currency) Fits(amount decimal.Decimal) bool {
	return HasScale(amount, c.Fraction())
}

// RateScale is the number of decimals stored for exchange rates.
const RateScale int32 = 6

// HasScale reports whether v is exact at places decimals. Trailing zeros do not count.
func HasScale(v decimal.Decimal, places int32) bool {
	return v.Equal(v.Truncate(places))
}

// Format renders amount with the currency symbol, rounded to the currency's minor units.
func Format(amount decimal.Decimal, c Currency) string {
	fraction := c.Fraction()
	minor := amount.Round(fraction).Shift(fraction).IntPart()
	return gomoney.New(minor, string(c)).Display()
}

// SplitTolerance is the allowed gap between a document amount and the sum of its splits.
var SplitTolerance = decimal.New(1, -2)

// WithinTolerance reports |a-b| < SplitTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(SplitTolerance)
}

// Sum adds values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Round2 rounds half away from zero to two decimals.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Ptr returns a pointer to v, used for nullable NUMERIC columns.
func Ptr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

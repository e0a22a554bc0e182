package fx

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// AccountingFields is the FX state of a monetary document. The implementations
// are LocalFields, QuotedFields and ClosedFields; no other type satisfies it.
type AccountingFields interface {
	// Columns flattens the variant into its nullable persisted form.
	Columns() Columns
	accountingFields()
}

// Columns mirrors the nullable document columns.
type Columns struct {
	AccountingMonth   *string          `json:"accountingMonth"`
	StandardRate      *decimal.Decimal `json:"standardRate"`
	RealRate          *decimal.Decimal `json:"realRate"`
	AmountPENStandard *decimal.Decimal `json:"amountPenStandard"`
	AmountPENReal     *decimal.Decimal `json:"amountPenReal"`
	FXVariance        *decimal.Decimal `json:"fxVariance"`
}

// LocalFields is a PEN document. It never carries FX values.
type LocalFields struct {
	Month *string
}

func (LocalFields) accountingFields() {}

func (f LocalFields) Columns() Columns {
	return Columns{AccountingMonth: f.Month}
}

// QuotedFields is a foreign document valued at the standard (annual) rate.
type QuotedFields struct {
	Amount            decimal.Decimal
	StandardRate      decimal.Decimal
	AmountPENStandard decimal.Decimal
}

func (QuotedFields) accountingFields() {}

func (f QuotedFields) Columns() Columns {
	return Columns{
		StandardRate:      money.Ptr(f.StandardRate),
		AmountPENStandard: money.Ptr(f.AmountPENStandard),
	}
}

// ClosedFields is a foreign document booked in an accounting month at its real rate.
type ClosedFields struct {
	QuotedFields
	Month         string
	RealRate      decimal.Decimal
	AmountPENReal decimal.Decimal
	FXVariance    decimal.Decimal
}

func (ClosedFields) accountingFields() {}

func (f ClosedFields) Columns() Columns {
	cols := f.QuotedFields.Columns()
	month := f.Month
	cols.AccountingMonth = &month
	cols.RealRate = money.Ptr(f.RealRate)
	cols.AmountPENReal = money.Ptr(f.AmountPENReal)
	cols.FXVariance = money.Ptr(f.FXVariance)
	return cols
}

// CalcInput describes a document to value.
type CalcInput struct {
	Currency        money.Currency
	Amount          decimal.Decimal
	Periods         []shared.YearMonth
	AccountingMonth *string
	RealRate        *decimal.Decimal
}

// Calculator derives AccountingFields.
type Calculator struct {
	rates   RateSource
	metrics FailureRecorder
}

// NewCalculator constructs a Calculator reading standard rates from rates.
func NewCalculator(rates RateSource) *Calculator {
	return &Calculator{rates: rates}
}

// WithMetrics attaches a failure recorder.
func (c *Calculator) WithMetrics(m FailureRecorder) *Calculator {
	c.metrics = m
	return c
}

// CalcAccountingFields values a document. Foreign documents require the annual
// rate of the reference year (first period, else the accounting month); its
// absence is a RateResolutionError.
func (c *Calculator) CalcAccountingFields(ctx context.Context, in CalcInput) (AccountingFields, error) {
	var month *shared.YearMonth
	if in.AccountingMonth != nil {
		ym, err := shared.ParseYearMonth(*in.AccountingMonth)
		if err != nil {
			return nil, shared.NewValidationError("accountingMonth", "%s", err.Error())
		}
		month = &ym
	}

	switch in.Currency.Kind() {
	case money.KindLocal:
		if month == nil {
			return LocalFields{}, nil
		}
		label := month.Label()
		return LocalFields{Month: &label}, nil
	case money.KindForeign:
	}

	if in.RealRate != nil && month == nil {
		return nil, shared.NewValidationError("realRate", "a real rate requires an accounting month")
	}

	year := 0
	switch {
	case len(in.Periods) > 0:
		year = in.Periods[0].Year
	case month != nil:
		year = month.Year
	}
	if year == 0 {
		return nil, c.rateError(in.Currency, 0)
	}
	rate, found, err := c.rates.AnnualRate(ctx, year)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, c.rateError(in.Currency, year)
	}

	quoted := QuotedFields{
		Amount:            in.Amount,
		StandardRate:      rate,
		AmountPENStandard: in.Amount.Mul(rate),
	}
	if month == nil {
		return quoted, nil
	}
	return c.Close(quoted, month.Label(), in.RealRate)
}

// Close books an already quoted document into month. The standard side is kept
// as is; realRate defaults to the standard rate.
func (c *Calculator) Close(quoted QuotedFields, month string, realRate *decimal.Decimal) (ClosedFields, error) {
	ym, err := shared.ParseYearMonth(month)
	if err != nil {
		return ClosedFields{}, shared.NewValidationError("accountingMonth", "%s", err.Error())
	}
	rate := quoted.StandardRate
	if realRate != nil {
		if err := ValidateRate("realRate", *realRate); err != nil {
			return ClosedFields{}, err
		}
		rate = *realRate
	}
	amountReal := quoted.Amount.Mul(rate)
	return ClosedFields{
		QuotedFields:  quoted,
		Month:         ym.Label(),
		RealRate:      rate,
		AmountPENReal: amountReal,
		FXVariance:    amountReal.Sub(quoted.AmountPENStandard),
	}, nil
}

func (c *Calculator) rateError(currency money.Currency, year int) error {
	if c.metrics != nil {
		c.metrics.RateResolutionFailed(currency.String())
	}
	return &shared.RateResolutionError{Currency: currency.String(), Year: year}
}

// FromColumns rebuilds the variant from stored columns.
func FromColumns(currency money.Currency, amount decimal.Decimal, cols Columns) (AccountingFields, error) {
	if currency.IsLocal() {
		return LocalFields{Month: cols.AccountingMonth}, nil
	}
	if cols.StandardRate == nil || cols.AmountPENStandard == nil {
		return nil, &shared.RateResolutionError{Currency: currency.String()}
	}
	quoted := QuotedFields{Amount: amount, StandardRate: *cols.StandardRate, AmountPENStandard: *cols.AmountPENStandard}
	if cols.AccountingMonth == nil || cols.RealRate == nil || cols.AmountPENReal == nil || cols.FXVariance == nil {
		return quoted, nil
	}
	return ClosedFields{
		QuotedFields:  quoted,
		Month:         *cols.AccountingMonth,
		RealRate:      *cols.RealRate,
		AmountPENReal: *cols.AmountPENReal,
		FXVariance:    *cols.FXVariance,
	}, nil
}

// AmountLocal is the PEN amount counted for the document: the real amount once
// closed, the standard amount while quoted, the amount itself when local.
func AmountLocal(f AccountingFields, amount decimal.Decimal) decimal.Decimal {
	switch v := f.(type) {
	case ClosedFields:
		return v.AmountPENReal
	case QuotedFields:
		return v.AmountPENStandard
	default:
		return amount
	}
}

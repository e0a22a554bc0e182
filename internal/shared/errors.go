package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation groups every business-rule rejection that the caller can fix by changing input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict groups rejections caused by the current state of stored data.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports a rejected field using a JSON-style path such as items[2].supportId.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is makes ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// OverspendError is returned when a ledger write would push execution past the allocated budget.
type OverspendError struct {
	SupportID int64
	PeriodID  int64
	Available decimal.Decimal
	Attempted decimal.Decimal
}

func (e *OverspendError) Error() string {
	return fmt.Sprintf("budget exceeded for support %d period %d: available %s, attempted %s",
		e.SupportID, e.PeriodID, e.Available.StringFixed(2), e.Attempted.StringFixed(2))
}

// Is makes OverspendError match ErrConflict.
func (e *OverspendError) Is(target error) bool { return target == ErrConflict }

// RateResolutionError means no exchange rate is configured for a foreign-currency amount.
type RateResolutionError struct {
	Currency string
	Year     int
}

func (e *RateResolutionError) Error() string {
	if e.Year == 0 {
		return fmt.Sprintf("no exchange rate available for %s: supply a rate or configure the annual rate", e.Currency)
	}
	return fmt.Sprintf("no exchange rate available for %s: configure the annual rate for %d", e.Currency, e.Year)
}

// Is makes RateResolutionError match ErrValidation.
func (e *RateResolutionError) Is(target error) bool { return target == ErrValidation }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Is makes NotFoundError match ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ClosedPeriodError rejects writes into a closed accounting period. There is no override.
type ClosedPeriodError struct {
	PeriodID int64
	Label    string
}

func (e *ClosedPeriodError) Error() string {
	return fmt.Sprintf("period %s is closed", e.Label)
}

// Is makes ClosedPeriodError match ErrConflict.
func (e *ClosedPeriodError) Is(target error) bool { return target == ErrConflict }

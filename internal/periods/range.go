package periods

import (
	"fmt"

	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// Range is an inclusive span of months.
type Range struct {
	From shared.YearMonth `json:"from"`
	To   shared.YearMonth `json:"to"`
}

// Contains reports From <= ym <= To.
func (r Range) Contains(ym shared.YearMonth) bool {
	k := ym.Key()
	return k >= r.From.Key() && k <= r.To.Key()
}

// RangeError names the first candidate outside the range.
type RangeError struct {
	Index  int
	Period shared.YearMonth
	Range  Range
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("period %s is outside the allowed range %s to %s", e.Period.Label(), e.Range.From.Label(), e.Range.To.Label())
}

// Is makes RangeError match shared.ErrValidation.
func (e *RangeError) Is(target error) bool { return target == shared.ErrValidation }

// Field returns the JSON path of the offending candidate.
func (e *RangeError) Field() string { return fmt.Sprintf("periods[%d]", e.Index) }

// ValidatePeriodRange checks every candidate against the inclusive range.
func ValidatePeriodRange(rng Range, candidates []shared.YearMonth) error {
	if rng.From.Key() > rng.To.Key() {
		return shared.NewValidationError("range", "range start %s is after end %s", rng.From.Label(), rng.To.Label())
	}
	for i, c := range candidates {
		if !rng.Contains(c) {
			return &RangeError{Index: i, Period: c, Range: rng}
		}
	}
	return nil
}

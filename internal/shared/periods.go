package shared

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Period statuses reused outside the periods module.
const (
	PeriodStatusOpen   = "OPEN"
	PeriodStatusClosed = "CLOSED"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = errors.New("period transition invalid")

// ValidatePeriodTransition checks open/close transitions.
func ValidatePeriodTransition(current, target string) error {
	if current == target {
		return nil
	}
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosed {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusOpen {
			return nil
		}
	}
	return ErrInvalidPeriodTransition
}

// YearMonth identifies a calendar month.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// Key encodes the month as year*100+month so ranges compare as integers.
func (ym YearMonth) Key() int {
	return ym.Year*100 + ym.Month
}

// Label renders YYYY-MM, the format stored for accounting months.
func (ym YearMonth) Label() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// Valid reports whether month is 1..12 and the year is plausible.
func (ym YearMonth) Valid() bool {
	return ym.Year >= 1900 && ym.Year <= 9999 && ym.Month >= 1 && ym.Month <= 12
}

func (ym YearMonth) String() string { return ym.Label() }

// ParseYearMonth parses a YYYY-MM label.
func ParseYearMonth(label string) (YearMonth, error) {
	label = strings.TrimSpace(label)
	year, month, ok := strings.Cut(label, "-")
	if !ok || len(year) != 4 || len(month) != 2 {
		return YearMonth{}, fmt.Errorf("invalid month %q (expected YYYY-MM)", label)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return YearMonth{}, fmt.Errorf("invalid month %q (expected YYYY-MM)", label)
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return YearMonth{}, fmt.Errorf("invalid month %q (expected YYYY-MM)", label)
	}
	ym := YearMonth{Year: y, Month: m}
	if !ym.Valid() {
		return YearMonth{}, fmt.Errorf("invalid month %q (expected YYYY-MM)", label)
	}
	return ym, nil
}

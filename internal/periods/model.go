package periods

import (
	"time"

	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// Status enumerates valid period states.
type Status string

const (
	StatusOpen   Status = shared.PeriodStatusOpen
	StatusClosed Status = shared.PeriodStatusClosed
)

// Period is a calendar month used both as operative and accounting period.
type Period struct {
	ID       int64      `json:"id"`
	Year     int        `json:"year"`
	Month    int        `json:"month"`
	Status   Status     `json:"status"`
	ClosedAt *time.Time `json:"closedAt,omitempty"`
	ClosedBy *int64     `json:"closedBy,omitempty"`
}

// YearMonth returns the calendar month of the period.
func (p Period) YearMonth() shared.YearMonth {
	return shared.YearMonth{Year: p.Year, Month: p.Month}
}

// Label renders YYYY-MM.
func (p Period) Label() string { return p.YearMonth().Label() }

// EnsureOpen returns a ClosedPeriodError when the period no longer accepts writes.
func (p Period) EnsureOpen() error {
	if p.Status == StatusClosed {
		return &shared.ClosedPeriodError{PeriodID: p.ID, Label: p.Label()}
	}
	return nil
}

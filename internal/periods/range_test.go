package periods

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/budgetguard/internal/shared"
)

func ym(y, m int) shared.YearMonth { return shared.YearMonth{Year: y, Month: m} }

func TestValidatePeriodRangeQuarter(t *testing.T) {
	rng := Range{From: ym(2026, 1), To: ym(2026, 3)}

	require.NoError(t, ValidatePeriodRange(rng, []shared.YearMonth{ym(2026, 1), ym(2026, 2), ym(2026, 3)}))

	err := ValidatePeriodRange(rng, []shared.YearMonth{ym(2026, 2), ym(2026, 4)})
	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
	require.Equal(t, 1, rangeErr.Index)
	require.Equal(t, ym(2026, 4), rangeErr.Period)
	require.Equal(t, "periods[1]", rangeErr.Field())
	require.True(t, errors.Is(err, shared.ErrValidation))
}

func TestValidatePeriodRangeCollapsed(t *testing.T) {
	rng := Range{From: ym(2026, 5), To: ym(2026, 5)}
	require.NoError(t, ValidatePeriodRange(rng, []shared.YearMonth{ym(2026, 5)}))
	require.Error(t, ValidatePeriodRange(rng, []shared.YearMonth{ym(2026, 6)}))
	require.Error(t, ValidatePeriodRange(rng, []shared.YearMonth{ym(2026, 4)}))
}

func TestValidatePeriodRangeAcrossYears(t *testing.T) {
	rng := Range{From: ym(2025, 11), To: ym(2026, 2)}
	require.NoError(t, ValidatePeriodRange(rng, []shared.YearMonth{ym(2025, 12), ym(2026, 1)}))
	require.Error(t, ValidatePeriodRange(rng, []shared.YearMonth{ym(2025, 10)}))
}

func TestValidatePeriodRangeInverted(t *testing.T) {
	err := ValidatePeriodRange(Range{From: ym(2026, 3), To: ym(2026, 1)}, nil)
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "range", vErr.Field)
}

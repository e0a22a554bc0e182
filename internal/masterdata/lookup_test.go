package masterdata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticLookupReportsOnlyKnownIDs(t *testing.T) {
	lookup := NewStatic([]int64{1, 2}, []int64{10}, nil)

	found, err := lookup.ExistingSupports(context.Background(), []int64{1, 3})
	require.NoError(t, err)
	require.Equal(t, map[int64]bool{1: true}, found)

	found, err = lookup.ExistingVendors(context.Background(), []int64{5})
	require.NoError(t, err)
	require.Empty(t, found)
}

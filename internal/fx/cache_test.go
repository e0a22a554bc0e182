package fx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/budgetguard/internal/platform/cache"
)

func newTestCache(t *testing.T) *cache.Versioned {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewVersioned(client, "fx:test", time.Hour)
}

func TestCachedRatesServesFromRedis(t *testing.T) {
	store := newMemoryRates(map[int]string{2026: "3.75"})
	cached := NewCachedRates(store, newTestCache(t), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rate, found, err := cached.AnnualRate(ctx, 2026)
		require.NoError(t, err)
		require.True(t, found)
		require.True(t, rate.Equal(dec("3.75")))
	}
	require.Equal(t, 1, store.reads)
}

func TestCachedRatesWriteInvalidates(t *testing.T) {
	store := newMemoryRates(nil)
	cached := NewCachedRates(store, newTestCache(t), nil)
	ctx := context.Background()

	_, found, err := cached.AnnualRate(ctx, 2026)
	require.NoError(t, err)
	require.False(t, found)

	_, err = cached.UpsertAnnualRate(ctx, 2026, dec("3.81"), 1)
	require.NoError(t, err)

	rate, found, err := cached.AnnualRate(ctx, 2026)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, rate.Equal(dec("3.81")))
}

func TestCachedRatesWithoutRedis(t *testing.T) {
	store := newMemoryRates(map[int]string{2026: "3.75"})
	cached := NewCachedRates(store, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, found, err := cached.AnnualRate(context.Background(), 2026)
			assert.NoError(t, err)
			assert.True(t, found)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, store.reads, 8)
}

package fx

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/budgetguard/internal/platform/cache"
)

type cachedRate struct {
	Rate  decimal.Decimal `json:"rate"`
	Found bool            `json:"found"`
}

// CachedRates fronts a RateStore with a versioned Redis cache. Concurrent misses
// for the same year collapse into one database read. Writes bump the version.
type CachedRates struct {
	store  RateStore
	cache  *cache.Versioned
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachedRates wraps store. A nil cache disables caching.
func NewCachedRates(store RateStore, c *cache.Versioned, logger *slog.Logger) *CachedRates {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRates{store: store, cache: c, logger: logger}
}

func (c *CachedRates) AnnualRate(ctx context.Context, year int) (decimal.Decimal, bool, error) {
	key := strconv.Itoa(year)
	if c.cache != nil {
		raw, ok, err := c.cache.Get(ctx, "annual:"+key)
		if err != nil {
			c.logger.Warn("fx rate cache read failed", slog.Int("year", year), slog.Any("error", err))
		} else if ok {
			var hit cachedRate
			if err := json.Unmarshal(raw, &hit); err == nil {
				return hit.Rate, hit.Found, nil
			}
		}
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		rate, found, err := c.store.AnnualRate(ctx, year)
		if err != nil {
			return nil, err
		}
		entry := cachedRate{Rate: rate, Found: found}
		if c.cache != nil {
			payload, _ := json.Marshal(entry)
			if err := c.cache.Set(ctx, "annual:"+key, payload); err != nil {
				c.logger.Warn("fx rate cache write failed", slog.Int("year", year), slog.Any("error", err))
			}
		}
		return entry, nil
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	entry := res.(cachedRate)
	return entry.Rate, entry.Found, nil
}

func (c *CachedRates) ListAnnualRates(ctx context.Context) ([]AnnualRate, error) {
	return c.store.ListAnnualRates(ctx)
}

func (c *CachedRates) UpsertAnnualRate(ctx context.Context, year int, rate decimal.Decimal, actorID int64) (AnnualRate, error) {
	saved, err := c.store.UpsertAnnualRate(ctx, year, rate, actorID)
	if err != nil {
		return AnnualRate{}, err
	}
	if c.cache != nil {
		if err := c.cache.Bump(ctx); err != nil {
			c.logger.Error("fx rate cache invalidation failed", slog.Int("year", year), slog.Any("error", err))
		}
	}
	return saved, nil
}

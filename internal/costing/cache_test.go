package costing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

type countingSource struct {
	loads int
	value Valuation
}

func (s *countingSource) Valuation(ctx context.Context, key shared.StockKey) (Valuation, error) {
	s.loads++
	return s.value, nil
}

func (s *countingSource) ItemValuation(ctx context.Context, tenantID, itemID int64) (Valuation, error) {
	s.loads++
	return s.value, nil
}

func newTestCache(t *testing.T, src ValuationSource) (*ValuationCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewValuationCache(client, src, time.Minute), mr
}

func TestValuationCacheReadThrough(t *testing.T) {
	src := &countingSource{value: Valuation{
		QtyOnHandCosted: decimal.NewFromInt(15),
		InventoryValue:  decimal.RequireFromString("32.50"),
	}}
	cache, _ := newTestCache(t, src)
	ctx := context.Background()
	key := shared.StockKey{TenantID: 1, ItemID: 2, LocationID: 3, UOM: "EA"}

	first, err := cache.Valuation(ctx, key)
	require.NoError(t, err)
	require.True(t, first.InventoryValue.Equal(decimal.RequireFromString("32.50")))
	require.Equal(t, 1, src.loads)

	second, err := cache.Valuation(ctx, key)
	require.NoError(t, err)
	require.True(t, second.QtyOnHandCosted.Equal(decimal.NewFromInt(15)))
	require.Equal(t, 1, src.loads, "second read must hit the cache")
}

func TestValuationCacheBumpInvalidates(t *testing.T) {
	src := &countingSource{value: Valuation{QtyOnHandCosted: decimal.NewFromInt(5)}}
	cache, _ := newTestCache(t, src)
	ctx := context.Background()
	key := shared.StockKey{TenantID: 1, ItemID: 2, LocationID: 3, UOM: "EA"}

	_, err := cache.Valuation(ctx, key)
	require.NoError(t, err)
	require.NoError(t, cache.Bump(ctx))

	_, err = cache.Valuation(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 2, src.loads, "bump must orphan the cached entry")
}

func TestValuationCacheNilClientLoadsDirect(t *testing.T) {
	src := &countingSource{value: Valuation{}}
	cache := NewValuationCache(nil, src, time.Minute)

	_, err := cache.ItemValuation(context.Background(), 1, 2)
	require.NoError(t, err)
	_, err = cache.ItemValuation(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 2, src.loads)
}
